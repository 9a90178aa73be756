// Package gemini provides a ModelClient implementation using Google's Gemini API.
//
// This provider uses the Gemini API backend via the official Go SDK:
// https://github.com/googleapis/go-genai
//
// Images are uploaded through the Files API and referenced by URI in later
// turns, so a long conversation does not resend image bytes on every call.
package gemini

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"

	"github.com/mhpenta/imagechat"
	"google.golang.org/genai"
)

// GeminiClient implements imagechat.ModelClient using Google's Gemini API.
type GeminiClient struct {
	client         *genai.Client
	defaultModel   string
	safetySettings []*genai.SafetySetting
	mu             sync.RWMutex
}

// Ensure GeminiClient implements the interface.
var _ imagechat.ModelClient = (*GeminiClient)(nil)

// New creates a new GeminiClient from a ProviderConfig.
func New(ctx context.Context, config *imagechat.ProviderConfig) (*GeminiClient, error) {
	if config == nil {
		config = &imagechat.ProviderConfig{}
	}

	clientCfg := &genai.ClientConfig{
		Backend: genai.BackendGeminiAPI,
	}

	if config.APIKey != "" {
		clientCfg.APIKey = config.APIKey
	}
	// If APIKey is empty, the SDK will try GOOGLE_API_KEY or GEMINI_API_KEY env vars

	if config.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client:       client,
		defaultModel: imagechat.ModelDefault.String(),
	}, nil
}

// NewWithAPIKey creates a client with an API key for Gemini API.
func NewWithAPIKey(ctx context.Context, apiKey string) (*GeminiClient, error) {
	return New(ctx, &imagechat.ProviderConfig{
		Provider: imagechat.ProviderGeminiAPI,
		APIKey:   apiKey,
	})
}

// SetDefaultModel sets the model used when a GenerateConfig names none.
func (g *GeminiClient) SetDefaultModel(model imagechat.Model) *GeminiClient {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.defaultModel = model.String()
	return g
}

// SetSafetySettings configures default safety settings for all requests.
// These can be overridden per-request via GenerateConfig.SafetySettings.
func (g *GeminiClient) SetSafetySettings(settings []imagechat.SafetySetting) *GeminiClient {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.safetySettings = convertSafetySettings(settings)
	return g
}

// UploadFile uploads a local file through the Files API.
func (g *GeminiClient) UploadFile(ctx context.Context, path string, mimeType string) (imagechat.AssetReference, error) {
	file, err := g.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType: mimeType,
	})
	if err != nil {
		return imagechat.AssetReference{}, &imagechat.UploadError{Path: path, Err: err}
	}

	ref := imagechat.AssetReference{
		URI:      file.URI,
		MIMEType: file.MIMEType,
		Name:     file.Name,
	}
	if ref.MIMEType == "" {
		ref.MIMEType = mimeType
	}
	return ref, nil
}

// GenerateStream streams the model's reply to the turn history, decoding
// every response into a TextChunk, ImageChunk or EmptyChunk.
func (g *GeminiClient) GenerateStream(ctx context.Context, turns []imagechat.Turn, config *imagechat.GenerateConfig) iter.Seq2[imagechat.Chunk, error] {
	if config == nil {
		config = imagechat.DefaultConfig()
	}

	modelName := g.resolveModel(config)
	contents := toContents(turns)
	genConfig := g.buildGenerateContentConfig(config)

	return func(yield func(imagechat.Chunk, error) bool) {
		for resp, err := range g.client.Models.GenerateContentStream(ctx, modelName, contents, genConfig) {
			if err != nil {
				yield(nil, fmt.Errorf("stream from %s: %w", modelName, err))
				return
			}
			if !yield(decodeChunk(resp), nil) {
				return
			}
		}
	}
}

// Close releases any resources held by the client.
func (g *GeminiClient) Close() error {
	// The genai.Client doesn't require explicit closing in the current SDK
	return nil
}

// resolveModel determines which API model name to use.
func (g *GeminiClient) resolveModel(config *imagechat.GenerateConfig) string {
	if config != nil && config.Model != "" {
		return config.Model.String()
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.defaultModel == "" {
		return imagechat.ModelDefault.String()
	}
	return g.defaultModel
}

// buildGenerateContentConfig converts our config to Gemini's GenerateContentConfig format.
func (g *GeminiClient) buildGenerateContentConfig(config *imagechat.GenerateConfig) *genai.GenerateContentConfig {
	genConfig := &genai.GenerateContentConfig{
		ResponseModalities: config.ResponseModalities,
		MaxOutputTokens:    config.MaxOutputTokens,
	}
	if len(genConfig.ResponseModalities) == 0 {
		genConfig.ResponseModalities = []string{imagechat.ModalityImage, imagechat.ModalityText}
	}

	if config.Temperature != nil {
		genConfig.Temperature = genai.Ptr(*config.Temperature)
	}
	if config.TopP != nil {
		genConfig.TopP = genai.Ptr(*config.TopP)
	}
	if config.TopK != nil {
		genConfig.TopK = genai.Ptr(*config.TopK)
	}

	// Safety settings: per-request overrides provider defaults
	g.mu.RLock()
	defaults := g.safetySettings
	g.mu.RUnlock()
	if len(config.SafetySettings) > 0 {
		genConfig.SafetySettings = convertSafetySettings(config.SafetySettings)
	} else if len(defaults) > 0 {
		genConfig.SafetySettings = defaults
	}

	return genConfig
}

// convertSafetySettings converts our SafetySettings to Gemini's format.
func convertSafetySettings(settings []imagechat.SafetySetting) []*genai.SafetySetting {
	result := make([]*genai.SafetySetting, 0, len(settings))
	for _, s := range settings {
		result = append(result, &genai.SafetySetting{
			Category:  genai.HarmCategory(s.Category),
			Threshold: genai.HarmBlockThreshold(s.Threshold),
		})
	}
	return result
}

// toContents converts the turn history to Gemini contents. Asset parts are
// sent as file references, text parts inline.
func toContents(turns []imagechat.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns))
	for _, turn := range turns {
		parts := make([]*genai.Part, 0, len(turn.Parts))
		for _, p := range turn.Parts {
			if p.IsAsset() {
				parts = append(parts, &genai.Part{
					FileData: &genai.FileData{
						FileURI:  p.Asset.URI,
						MIMEType: p.Asset.MIMEType,
					},
				})
				continue
			}
			parts = append(parts, &genai.Part{Text: p.Text})
		}
		contents = append(contents, &genai.Content{
			Role:  string(turn.Role),
			Parts: parts,
		})
	}
	return contents
}

// decodeChunk maps one streamed response onto the chunk variants. Only the
// first candidate is considered; an inline image anywhere in it wins over text.
func decodeChunk(resp *genai.GenerateContentResponse) imagechat.Chunk {
	if resp == nil || len(resp.Candidates) == 0 {
		return imagechat.EmptyChunk{}
	}
	candidate := resp.Candidates[0]
	if candidate == nil || candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return imagechat.EmptyChunk{}
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return imagechat.ImageChunk{
				Data:     part.InlineData.Data,
				MIMEType: part.InlineData.MIMEType,
			}
		}
		if part.Thought {
			continue
		}
		text.WriteString(part.Text)
	}

	if text.Len() == 0 {
		return imagechat.EmptyChunk{}
	}
	return imagechat.TextChunk{Text: text.String()}
}
