package imagechat

import (
	"context"
	"iter"
)

// ModelClient is the remote multimodal model a Session talks to.
// Implement this interface to back sessions with a different provider.
type ModelClient interface {
	// UploadFile uploads a local file and returns a handle that turns can
	// reference instead of inlining the bytes.
	UploadFile(ctx context.Context, path string, mimeType string) (AssetReference, error)

	// GenerateStream streams the model's reply to the given turn history.
	// Iteration stops at the first error.
	GenerateStream(ctx context.Context, turns []Turn, genConfig *GenerateConfig) iter.Seq2[Chunk, error]

	// Close releases any resources held by the client.
	Close() error
}

// Chunk is one decoded unit of a streamed generation response.
// It is one of TextChunk, ImageChunk or EmptyChunk.
type Chunk interface {
	isChunk()
}

// TextChunk carries text only.
type TextChunk struct {
	Text string
}

// ImageChunk carries inline image bytes.
type ImageChunk struct {
	Data     []byte
	MIMEType string
}

// EmptyChunk is a response with no usable candidate content.
type EmptyChunk struct{}

func (TextChunk) isChunk()  {}
func (ImageChunk) isChunk() {}
func (EmptyChunk) isChunk() {}
