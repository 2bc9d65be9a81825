package tabular

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// ErrBlobNotExist is returned by Blob.Load when nothing has been stored yet.
var ErrBlobNotExist = errors.New("tabular: blob does not exist")

// Blob stores the serialised workbook. Generation is an opaque version; Save must fail with
// ErrConflict when the stored generation no longer matches.
type Blob interface {
	Load(ctx context.Context) ([]byte, int64, error)
	Save(ctx context.Context, data []byte, generation int64) error
}

// FileBlob keeps the workbook on the local filesystem, using the modification time as the
// generation.
type FileBlob struct {
	Path string
}

// Load reads the file.
func (b FileBlob) Load(_ context.Context) ([]byte, int64, error) {
	info, err := os.Stat(b.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, ErrBlobNotExist
	}
	if err != nil {
		return nil, 0, err
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		return nil, 0, err
	}
	return data, info.ModTime().UnixNano(), nil
}

// Save replaces the file atomically when its modification time still equals generation.
func (b FileBlob) Save(_ context.Context, data []byte, generation int64) error {
	info, err := os.Stat(b.Path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		if generation != 0 {
			return fmt.Errorf("%w: %s was removed", ErrConflict, b.Path)
		}
	case err != nil:
		return err
	case info.ModTime().UnixNano() != generation:
		return fmt.Errorf("%w: %s changed on disk", ErrConflict, b.Path)
	}

	dir := filepath.Dir(b.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".workbook-*.xlsx")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), b.Path)
}

// GCSBlob keeps the workbook as a Cloud Storage object and relies on generation preconditions
// for conflict detection across instances.
type GCSBlob struct {
	object *storage.ObjectHandle
}

// NewGCSBlob binds the blob to bucket/object.
func NewGCSBlob(client *storage.Client, bucket, object string) (*GCSBlob, error) {
	if client == nil {
		return nil, errors.New("tabular: storage client is required")
	}
	if bucket == "" || object == "" {
		return nil, errors.New("tabular: bucket and object are required")
	}
	return &GCSBlob{object: client.Bucket(bucket).Object(object)}, nil
}

// Load downloads the object and reports its generation.
func (b *GCSBlob) Load(ctx context.Context) ([]byte, int64, error) {
	reader, err := b.object.NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, 0, ErrBlobNotExist
	}
	if err != nil {
		return nil, 0, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, err
	}
	return data, reader.Attrs.Generation, nil
}

// Save uploads data if the object generation still matches.
func (b *GCSBlob) Save(ctx context.Context, data []byte, generation int64) error {
	conds := storage.Conditions{GenerationMatch: generation}
	if generation == 0 {
		conds = storage.Conditions{DoesNotExist: true}
	}
	writer := b.object.If(conds).NewWriter(ctx)
	writer.ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return translateStorageError(err)
	}
	return translateStorageError(writer.Close())
}

func translateStorageError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
