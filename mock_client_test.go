package imagechat

import (
	"context"
	"iter"
)

// MockModelClient is a mock implementation of ModelClient.
type MockModelClient struct {
	UploadFileFunc     func(ctx context.Context, path string, mimeType string) (AssetReference, error)
	GenerateStreamFunc func(ctx context.Context, turns []Turn, config *GenerateConfig) iter.Seq2[Chunk, error]
	CloseFunc          func() error
}

func (m *MockModelClient) UploadFile(ctx context.Context, path string, mimeType string) (AssetReference, error) {
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, path, mimeType)
	}
	return AssetReference{URI: "mock://" + path, MIMEType: mimeType}, nil
}

func (m *MockModelClient) GenerateStream(ctx context.Context, turns []Turn, config *GenerateConfig) iter.Seq2[Chunk, error] {
	if m.GenerateStreamFunc != nil {
		return m.GenerateStreamFunc(ctx, turns, config)
	}
	return chunks()
}

func (m *MockModelClient) Close() error {
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// chunks streams the given chunks in order.
func chunks(cs ...Chunk) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for _, c := range cs {
			if !yield(c, nil) {
				return
			}
		}
	}
}

// failingStream yields err after the given chunks.
func failingStream(err error, cs ...Chunk) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for _, c := range cs {
			if !yield(c, nil) {
				return
			}
		}
		yield(nil, err)
	}
}
