// Package jobs publishes order events to message brokers.
package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/suprole/replenishment/internal/services"
)

// encodeEvent returns the JSON body and the routing metadata shared by every broker: Pub/Sub
// attributes and Kafka headers carry the same keys.
func encodeEvent(event services.OrderEvent) ([]byte, map[string]string, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal order event: %w", err)
	}
	meta := make(map[string]string, 5)
	for key, value := range map[string]string{
		"eventId":        event.ID,
		"eventType":      event.Type,
		"poIds":          strings.Join(event.PoIDs, ","),
		"previousStatus": event.PreviousStatus,
		"currentStatus":  event.CurrentStatus,
	} {
		if value = strings.TrimSpace(value); value != "" {
			meta[key] = value
		}
	}
	return body, meta, nil
}

// partitionKey keeps events about the same order together.
func partitionKey(event services.OrderEvent) string {
	if len(event.PoIDs) > 0 {
		return event.PoIDs[0]
	}
	return event.ID
}
