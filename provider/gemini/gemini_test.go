package gemini

import (
	"bytes"
	"testing"

	"github.com/mhpenta/imagechat"
	"google.golang.org/genai"
)

func TestToContents(t *testing.T) {
	turns := []imagechat.Turn{
		{
			Role: imagechat.RoleUser,
			Parts: []imagechat.Part{
				imagechat.AssetPart(imagechat.AssetReference{URI: "https://files/a", MIMEType: "image/jpeg"}),
				imagechat.TextPart("remove background"),
			},
		},
		{
			Role: imagechat.RoleModel,
			Parts: []imagechat.Part{
				imagechat.AssetPart(imagechat.AssetReference{URI: "https://files/b", MIMEType: "image/png"}),
			},
		},
	}

	contents := toContents(turns)
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents, got %d", len(contents))
	}

	user := contents[0]
	if user.Role != "user" {
		t.Errorf("expected role user, got %q", user.Role)
	}
	if len(user.Parts) != 2 {
		t.Fatalf("expected 2 user parts, got %d", len(user.Parts))
	}
	if user.Parts[0].FileData == nil || user.Parts[0].FileData.FileURI != "https://files/a" {
		t.Errorf("expected first part to reference https://files/a, got %+v", user.Parts[0])
	}
	if user.Parts[0].FileData.MIMEType != "image/jpeg" {
		t.Errorf("expected image/jpeg, got %q", user.Parts[0].FileData.MIMEType)
	}
	if user.Parts[1].Text != "remove background" {
		t.Errorf("expected text part, got %+v", user.Parts[1])
	}

	model := contents[1]
	if model.Role != "model" {
		t.Errorf("expected role model, got %q", model.Role)
	}
	if model.Parts[0].FileData == nil || model.Parts[0].FileData.MIMEType != "image/png" {
		t.Errorf("unexpected model part %+v", model.Parts[0])
	}
}

func TestDecodeChunk(t *testing.T) {
	imageData := []byte{0xff, 0xd8, 0xff}

	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		want imagechat.Chunk
	}{
		{
			name: "nil response",
			resp: nil,
			want: imagechat.EmptyChunk{},
		},
		{
			name: "no candidates",
			resp: &genai.GenerateContentResponse{},
			want: imagechat.EmptyChunk{},
		},
		{
			name: "candidate without content",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{}},
			},
			want: imagechat.EmptyChunk{},
		},
		{
			name: "text only",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{{Text: "working on it"}}},
				}},
			},
			want: imagechat.TextChunk{Text: "working on it"},
		},
		{
			name: "thoughts are dropped",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{{Text: "hmm", Thought: true}}},
				}},
			},
			want: imagechat.EmptyChunk{},
		},
		{
			name: "image after text",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{
						{Text: "here you go"},
						{InlineData: &genai.Blob{Data: imageData, MIMEType: "image/jpeg"}},
					}},
				}},
			},
			want: imagechat.ImageChunk{Data: imageData, MIMEType: "image/jpeg"},
		},
		{
			name: "empty inline data",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{
						{InlineData: &genai.Blob{MIMEType: "image/png"}},
					}},
				}},
			},
			want: imagechat.EmptyChunk{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeChunk(tt.resp)
			switch want := tt.want.(type) {
			case imagechat.ImageChunk:
				img, ok := got.(imagechat.ImageChunk)
				if !ok {
					t.Fatalf("expected ImageChunk, got %T", got)
				}
				if !bytes.Equal(img.Data, want.Data) || img.MIMEType != want.MIMEType {
					t.Errorf("decodeChunk() = %+v, want %+v", img, want)
				}
			default:
				if got != tt.want {
					t.Errorf("decodeChunk() = %#v, want %#v", got, tt.want)
				}
			}
		})
	}
}

func TestBuildGenerateContentConfig(t *testing.T) {
	g := &GeminiClient{}

	cfg := g.buildGenerateContentConfig(imagechat.DefaultConfig())
	if cfg.Temperature == nil || *cfg.Temperature != 1 {
		t.Errorf("expected temperature 1, got %v", cfg.Temperature)
	}
	if cfg.TopP == nil || *cfg.TopP != 0.95 {
		t.Errorf("expected top_p 0.95, got %v", cfg.TopP)
	}
	if cfg.TopK == nil || *cfg.TopK != 40 {
		t.Errorf("expected top_k 40, got %v", cfg.TopK)
	}
	if cfg.MaxOutputTokens != 8192 {
		t.Errorf("expected 8192 max output tokens, got %d", cfg.MaxOutputTokens)
	}
	if len(cfg.ResponseModalities) != 2 {
		t.Errorf("expected image and text modalities, got %v", cfg.ResponseModalities)
	}
	if cfg.SafetySettings != nil {
		t.Errorf("expected no safety settings, got %v", cfg.SafetySettings)
	}

	g.SetSafetySettings([]imagechat.SafetySetting{{
		Category:  imagechat.SafetyCategoryHarassment,
		Threshold: imagechat.SafetyThresholdBlockNone,
	}})
	cfg = g.buildGenerateContentConfig(&imagechat.GenerateConfig{})
	if len(cfg.SafetySettings) != 1 {
		t.Fatalf("expected provider default safety settings, got %v", cfg.SafetySettings)
	}
	if cfg.SafetySettings[0].Threshold != genai.HarmBlockThreshold("BLOCK_NONE") {
		t.Errorf("unexpected threshold %v", cfg.SafetySettings[0].Threshold)
	}
	if len(cfg.ResponseModalities) != 2 {
		t.Errorf("expected modalities to default, got %v", cfg.ResponseModalities)
	}

	cfg = g.buildGenerateContentConfig(&imagechat.GenerateConfig{
		SafetySettings: []imagechat.SafetySetting{
			{Category: imagechat.SafetyCategoryHateSpeech, Threshold: imagechat.SafetyThresholdBlockHighAndUp},
			{Category: imagechat.SafetyCategoryDangerousContent, Threshold: imagechat.SafetyThresholdBlockHighAndUp},
		},
	})
	if len(cfg.SafetySettings) != 2 {
		t.Errorf("expected per-request safety settings to win, got %v", cfg.SafetySettings)
	}
}

func TestResolveModel(t *testing.T) {
	g := &GeminiClient{defaultModel: imagechat.ModelDefault.String()}

	if got := g.resolveModel(&imagechat.GenerateConfig{}); got != imagechat.ModelDefault.String() {
		t.Errorf("expected default model, got %q", got)
	}

	g.SetDefaultModel("gemini-2.5-flash-image")
	if got := g.resolveModel(nil); got != "gemini-2.5-flash-image" {
		t.Errorf("expected overridden default, got %q", got)
	}

	cfg := (&imagechat.GenerateConfig{}).WithModel("custom")
	if got := g.resolveModel(cfg); got != "custom" {
		t.Errorf("expected per-request model, got %q", got)
	}
}
