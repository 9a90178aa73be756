package imagechat

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// modelTurnTimeout bounds the upload that records a generated image in history.
// It runs detached from the caller's context so a disconnecting client does not
// leave the conversation without its model turn.
const modelTurnTimeout = 2 * time.Minute

// Session is the conversation for one topic: an append-only list of turns
// and the assets uploaded on its behalf. The full turn list is replayed to
// the model on every Generate.
type Session struct {
	topicID   string
	client    ModelClient
	genConfig *GenerateConfig
	logger    *slog.Logger

	// exchangeMu serializes whole request turns for this topic.
	exchangeMu sync.Mutex

	// inFlight counts exchanges that hold or wait for exchangeMu, plus
	// registry acquisitions. A busy session is never evicted.
	inFlight atomic.Int32

	// mu guards the fields below.
	mu       sync.Mutex
	turns    []Turn
	assets   []AssetReference
	lastUsed time.Time
}

// NewSession creates an empty session for a topic.
func NewSession(topicID string, client ModelClient, genConfig *GenerateConfig, logger *slog.Logger) *Session {
	if genConfig == nil {
		genConfig = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		topicID:   topicID,
		client:    client,
		genConfig: genConfig,
		logger:    logger.With("topic_id", topicID),
		turns:     make([]Turn, 0),
		assets:    make([]AssetReference, 0),
		lastUsed:  time.Now(),
	}
}

// TopicID returns the topic the session belongs to.
func (s *Session) TopicID() string {
	return s.topicID
}

// IngestImages uploads each path in order and appends the resulting
// references to the session's assets. MIME types are detected from the files.
// The first failure is returned; references appended before it are kept.
func (s *Session) IngestImages(ctx context.Context, paths []string) ([]AssetReference, error) {
	return s.ingest(ctx, ImagesFromPaths(paths))
}

func (s *Session) ingest(ctx context.Context, images []InputImage) ([]AssetReference, error) {
	refs := make([]AssetReference, 0, len(images))
	for _, img := range images {
		mimeType := img.MIMEType
		if mimeType == "" {
			mimeType = DetectMIMEType(img.Path)
		}
		ref, err := s.upload(ctx, img.Path, mimeType)
		if err != nil {
			s.logger.Error("image upload failed",
				"path", img.Path,
				"uploaded", len(refs),
				"error", err.Error(),
			)
			return refs, err
		}

		s.mu.Lock()
		s.assets = append(s.assets, ref)
		s.lastUsed = time.Now()
		s.mu.Unlock()

		refs = append(refs, ref)
	}

	s.logger.Debug("images ingested", "count", len(refs))
	return refs, nil
}

// AddUserTurn appends a user turn: one asset part per reference, in the
// order given, followed by the text part.
func (s *Session) AddUserTurn(text string, refs ...AssetReference) {
	parts := make([]Part, 0, len(refs)+1)
	for _, ref := range refs {
		parts = append(parts, AssetPart(ref))
	}
	parts = append(parts, TextPart(text))

	s.mu.Lock()
	defer s.mu.Unlock()

	s.turns = append(s.turns, Turn{Role: RoleUser, Parts: parts})
	s.lastUsed = time.Now()
}

// Generate sends the full history to the model and writes the first image
// chunk of the reply to outputPath. Text chunks are logged and collected.
// The written image is then uploaded and appended as a model turn before
// Generate returns; if that upload fails the outcome reports
// ModelTurnRecorded=false and the error is only logged.
func (s *Session) Generate(ctx context.Context, outputPath string) (*GenerationOutcome, error) {
	history := s.History()
	start := time.Now()

	s.logger.Debug("starting generation",
		"model", s.genConfig.Model.String(),
		"turns", len(history),
	)

	var (
		image *ImageChunk
		text  strings.Builder
	)
	for chunk, err := range s.client.GenerateStream(ctx, history, s.genConfig) {
		if err != nil {
			s.logger.Error("generation failed",
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err.Error(),
			)
			return nil, fmt.Errorf("generation stream: %w", err)
		}

		switch c := chunk.(type) {
		case ImageChunk:
			image = &c
		case TextChunk:
			s.logger.Info("model text", "text", c.Text)
			text.WriteString(c.Text)
		case EmptyChunk:
		}
		if image != nil {
			break
		}
	}

	if image == nil {
		s.logger.Error("generation produced no image",
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil, ErrNoImage
	}

	if err := os.WriteFile(outputPath, image.Data, 0o644); err != nil {
		return nil, fmt.Errorf("save generated image: %w", err)
	}

	outcome := &GenerationOutcome{
		Path:     outputPath,
		MIMEType: image.MIMEType,
		Size:     len(image.Data),
		Text:     text.String(),
	}
	outcome.ModelTurnRecorded = s.recordModelTurn(ctx, outputPath, image.MIMEType)

	s.logger.Info("generation completed",
		"duration_ms", time.Since(start).Milliseconds(),
		"path", outputPath,
		"mime_type", image.MIMEType,
		"bytes", outcome.Size,
		"model_turn_recorded", outcome.ModelTurnRecorded,
	)

	return outcome, nil
}

// Exchange runs one request turn: ingest the images, add the user turn and
// generate. Exchanges on the same session never overlap. An image without a
// MIME type has it detected from the file.
func (s *Session) Exchange(ctx context.Context, prompt string, images []InputImage, outputPath string) (*GenerationOutcome, error) {
	if err := ValidatePrompt(prompt); err != nil {
		return nil, err
	}
	if err := ValidateImageCount(len(images)); err != nil {
		return nil, err
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()

	var refs []AssetReference
	if len(images) > 0 {
		var err error
		refs, err = s.ingest(ctx, images)
		if err != nil {
			return nil, err
		}
	}
	s.AddUserTurn(prompt, refs...)

	outcome, err := s.Generate(ctx, outputPath)
	if err != nil {
		return nil, err
	}

	s.LogHistory()
	return outcome, nil
}

// History returns a copy of the turn list.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	historyCopy := make([]Turn, len(s.turns))
	for i, turn := range s.turns {
		historyCopy[i] = Turn{
			Role:  turn.Role,
			Parts: append([]Part(nil), turn.Parts...),
		}
	}
	return historyCopy
}

// Assets returns a copy of every reference uploaded for this session.
func (s *Session) Assets() []AssetReference {
	s.mu.Lock()
	defer s.mu.Unlock()

	assetsCopy := make([]AssetReference, len(s.assets))
	copy(assetsCopy, s.assets)
	return assetsCopy
}

// LastUsed returns when the session last changed.
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Busy reports whether an exchange is running or queued on the session, or
// a registry caller still holds it.
func (s *Session) Busy() bool {
	return s.inFlight.Load() > 0
}

// LogHistory writes the turn list to the debug log.
func (s *Session) LogHistory() {
	if !s.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for i, turn := range s.History() {
		for j, part := range turn.Parts {
			if part.IsAsset() {
				s.logger.Debug("history",
					"turn", i+1, "role", string(turn.Role), "part", j,
					"uri", part.Asset.URI, "mime_type", part.Asset.MIMEType,
				)
				continue
			}
			s.logger.Debug("history",
				"turn", i+1, "role", string(turn.Role), "part", j,
				"text", part.Text,
			)
		}
	}
}

func (s *Session) recordModelTurn(ctx context.Context, path, mimeType string) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), modelTurnTimeout)
	defer cancel()

	ref, err := s.upload(ctx, path, mimeType)
	if err != nil {
		s.logger.Warn("model turn not recorded",
			"path", path,
			"error", err.Error(),
		)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets = append(s.assets, ref)
	s.turns = append(s.turns, Turn{Role: RoleModel, Parts: []Part{AssetPart(ref)}})
	s.lastUsed = time.Now()
	return true
}

func (s *Session) upload(ctx context.Context, path, mimeType string) (AssetReference, error) {
	ref, err := s.client.UploadFile(ctx, path, mimeType)
	if err != nil {
		if IsUploadError(err) {
			return AssetReference{}, err
		}
		return AssetReference{}, &UploadError{Path: path, Err: err}
	}
	if ref.MIMEType == "" {
		ref.MIMEType = mimeType
	}
	return ref, nil
}

// DetectMIMEType sniffs the image type of a local file, falling back to
// its extension.
func DetectMIMEType(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return GetMIMEType(path)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := f.Read(head)
	mime := http.DetectContentType(head[:n])
	if ValidMIMETypes[mime] {
		return mime
	}
	return GetMIMEType(path)
}
