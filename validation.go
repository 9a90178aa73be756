package imagechat

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors
var (
	ErrEmptyPrompt     = errors.New("prompt cannot be empty")
	ErrEmptyTopicID    = errors.New("topic_id cannot be empty")
	ErrEmptyImageData  = errors.New("image data cannot be empty")
	ErrInvalidMIMEType = errors.New("invalid or unsupported MIME type")
	ErrImageTooLarge   = errors.New("image data exceeds maximum size")
	ErrTooManyImages   = errors.New("too many input images")
)

// Image size limits
const (
	// MaxImageSize is the maximum allowed image size in bytes (20MB)
	MaxImageSize = 20 * 1024 * 1024

	// MaxInputImages is the maximum number of images attached to one turn
	MaxInputImages = 14
)

// ValidMIMETypes contains the supported image MIME types
var ValidMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// ValidatePrompt validates a text prompt.
func ValidatePrompt(prompt string) error {
	if strings.TrimSpace(prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// ValidateTopicID validates a caller-supplied topic identifier.
func ValidateTopicID(topicID string) error {
	if strings.TrimSpace(topicID) == "" {
		return ErrEmptyTopicID
	}
	return nil
}

// ValidateImageCount validates the number of images attached to a turn.
func ValidateImageCount(n int) error {
	if n > MaxInputImages {
		return fmt.Errorf("%w: %d (max %d)", ErrTooManyImages, n, MaxInputImages)
	}
	return nil
}

// ValidateUpload validates an uploaded image by size and MIME type.
func ValidateUpload(size int64, mimeType string) error {
	if size == 0 {
		return ErrEmptyImageData
	}
	if size > MaxImageSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrImageTooLarge, size, MaxImageSize)
	}
	if mimeType == "" {
		return fmt.Errorf("%w: MIME type is required", ErrInvalidMIMEType)
	}
	if !ValidMIMETypes[mimeType] {
		return fmt.Errorf("%w: %s", ErrInvalidMIMEType, mimeType)
	}
	return nil
}

// IsValidationError reports whether err stems from input validation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyPrompt) ||
		errors.Is(err, ErrEmptyTopicID) ||
		errors.Is(err, ErrEmptyImageData) ||
		errors.Is(err, ErrInvalidMIMEType) ||
		errors.Is(err, ErrImageTooLarge) ||
		errors.Is(err, ErrTooManyImages)
}
