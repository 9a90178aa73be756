package imagechat

// Model represents a specific generation model.
type Model string

// ModelDefault is the image-capable chat model used when none is configured.
const ModelDefault Model = "gemini-2.0-flash-exp-image-generation"

// Provider represents a model provider/backend.
type Provider string

const (
	ProviderGeminiAPI Provider = "gemini"
)

// ProviderConfig configures a specific provider.
type ProviderConfig struct {
	// Provider type
	Provider Provider

	// APIKey for authentication
	APIKey string

	// BaseURL for custom endpoints (optional)
	BaseURL string
}

// Response modalities understood by image-capable models.
const (
	ModalityText  = "TEXT"
	ModalityImage = "IMAGE"
)

// GenerateConfig holds configuration options for a generation call.
type GenerateConfig struct {
	// Model to use for generation (if empty, the client's default)
	Model Model

	// Temperature controls randomness
	Temperature *float32

	// TopP is the nucleus sampling threshold
	TopP *float32

	// TopK limits sampling to the K most likely tokens
	TopK *float32

	// MaxOutputTokens caps the response length (0 = provider default)
	MaxOutputTokens int32

	// ResponseModalities requested from the model
	ResponseModalities []string

	// SafetySettings for content filtering
	SafetySettings []SafetySetting
}

// WithModel returns a copy of the config with the specified model.
func (c *GenerateConfig) WithModel(model Model) *GenerateConfig {
	if c == nil {
		return &GenerateConfig{Model: model}
	}
	cX := *c
	cX.Model = model
	return &cX
}

// DefaultConfig returns a GenerateConfig with the sampling parameters the
// image chat is tuned for.
func DefaultConfig() *GenerateConfig {
	temp := float32(1.0)
	topP := float32(0.95)
	topK := float32(40)
	return &GenerateConfig{
		Model:              ModelDefault,
		Temperature:        &temp,
		TopP:               &topP,
		TopK:               &topK,
		MaxOutputTokens:    8192,
		ResponseModalities: []string{ModalityImage, ModalityText},
	}
}

// DefaultConfigWithModel returns a default config with the specified model.
func DefaultConfigWithModel(model Model) *GenerateConfig {
	config := DefaultConfig()
	config.Model = model
	return config
}

// String returns the model identifier.
func (m Model) String() string {
	return string(m)
}
