package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
)

const maxRequestBodySize = 16 * 1024

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body exceeds allowed size")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxRequestBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads and decodes a JSON object, reporting a client-facing message on failure.
func decodeJSONBody(r *http.Request, dst any) (int, string, bool) {
	body, err := readLimitedBody(r, maxRequestBodySize)
	switch {
	case errors.Is(err, errBodyTooLarge):
		return http.StatusRequestEntityTooLarge, err.Error(), false
	case err != nil:
		return http.StatusBadRequest, err.Error(), false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return http.StatusBadRequest, "request body must be valid JSON", false
	}
	return 0, "", true
}

// clearableString tracks whether a JSON member was sent. An explicit null counts as sent and
// clears the field; only an absent member leaves it unchanged.
type clearableString struct {
	set   bool
	value string
}

func (c *clearableString) UnmarshalJSON(data []byte) error {
	c.set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		c.value = ""
		return nil
	}
	return json.Unmarshal(data, &c.value)
}

// ptr returns nil for an absent member.
func (c clearableString) ptr() *string {
	if !c.set {
		return nil
	}
	value := c.value
	return &value
}
