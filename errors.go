package imagechat

import (
	"errors"
	"fmt"
)

// UploadError is returned when the model client rejects an asset upload.
type UploadError struct {
	Path string
	Err  error // Underlying error from the provider
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Path, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// IsUploadError checks if an error is an UploadError.
func IsUploadError(err error) bool {
	var upErr *UploadError
	return errors.As(err, &upErr)
}

// ErrNoImage is returned when a generation stream ends without an image chunk.
var ErrNoImage = errors.New("model returned no image")

// ErrStorageNotConfigured is returned when file operations are attempted
// without a configured directory.
var ErrStorageNotConfigured = errors.New("storage not configured")
