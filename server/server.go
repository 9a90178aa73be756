// Package server exposes conversation sessions over HTTP:
//
//	POST /generate-image            multipart: files (0..N), prompt, topic_id
//	GET  /images/{name}             previously generated images
//	GET  /topics/{topic_id}/history turn list of a resident topic
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/mhpenta/imagechat"
)

const (
	// multipartMemory is how much of a multipart body is held in memory
	// before parts spill to temporary files.
	multipartMemory = 8 << 20

	// DefaultMaxUploadBytes bounds a /generate-image request body.
	DefaultMaxUploadBytes = 32 << 20

	uploadPrefix = "input"
	outputPrefix = "output"
	imageRoute   = "/images/"

	detailGenerationFailed = "image generation failed"
	detailImageNotFound    = "Image not found"
	detailTopicNotFound    = "Topic not found"
)

// Server serves the image chat endpoints.
type Server struct {
	registry *imagechat.Registry
	uploads  *imagechat.DiskStore
	outputs  *imagechat.DiskStore

	logger          *slog.Logger
	maxUploadBytes  int64
	generateTimeout time.Duration
	now             func() time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets a structured logger for request handling.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMaxUploadBytes limits the size of a /generate-image request body.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		s.maxUploadBytes = n
	}
}

// WithGenerateTimeout bounds one generation. Zero leaves it unbounded.
func WithGenerateTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.generateTimeout = d
	}
}

// WithClock overrides the time source used to name files.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.now = now
	}
}

// New creates a Server. Uploaded inputs go to uploads and generated images
// to outputs, which is also the directory served under /images/.
func New(registry *imagechat.Registry, uploads, outputs *imagechat.DiskStore, opts ...Option) *Server {
	s := &Server{
		registry:       registry,
		uploads:        uploads,
		outputs:        outputs,
		logger:         slog.Default(),
		maxUploadBytes: DefaultMaxUploadBytes,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate-image", s.handleGenerateImage)
	mux.HandleFunc("GET /images/{name}", s.handleGetImage)
	mux.HandleFunc("GET /topics/{topic_id}/history", s.handleHistory)
	return s.withRequestLogging(mux)
}

type generateResponse struct {
	ImageData string `json:"image_data"`
	ImageURL  string `json:"image_url"`
	TopicID   string `json:"topic_id"`
	Status    string `json:"status"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleGenerateImage(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(r.Context(), s.logger)

	if r.ContentLength > s.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", s.maxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, http.StatusUnprocessableEntity, "invalid multipart form: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	prompt := r.PostFormValue("prompt")
	topicID := r.PostFormValue("topic_id")
	if err := imagechat.ValidatePrompt(prompt); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := imagechat.ValidateTopicID(topicID); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	files := uploadedFiles(r.MultipartForm)
	if err := imagechat.ValidateImageCount(len(files)); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ts := s.now()
	inputs, err := s.saveUploads(files, ts)
	if err != nil {
		if imagechat.IsValidationError(err) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		logger.Error("failed to save uploads", "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	outputName := s.outputs.Allocate(outputPrefix, ts, 0)[0]
	defer s.outputs.Release(outputName)
	outputPath, err := s.outputs.Path(outputName)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	if s.generateTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.generateTimeout)
		defer cancel()
	}

	session, release := s.registry.Acquire(topicID)
	defer release()
	logger.Info("generating image",
		"topic_id", topicID,
		"images", len(inputs),
		"output", outputName,
	)

	if _, err := session.Exchange(ctx, prompt, inputs, outputPath); err != nil {
		switch {
		case imagechat.IsValidationError(err):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, imagechat.ErrNoImage):
			writeError(w, http.StatusInternalServerError, detailGenerationFailed)
		default:
			logger.Error("exchange failed", "topic_id", topicID, "error", err.Error())
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if !s.outputs.Exists(outputName) {
		writeError(w, http.StatusInternalServerError, detailGenerationFailed)
		return
	}
	data, err := s.outputs.Read(outputName)
	if err != nil {
		logger.Error("failed to read generated image", "output", outputName, "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{
		ImageData: base64.StdEncoding.EncodeToString(data),
		ImageURL:  imageRoute + outputName,
		TopicID:   topicID,
		Status:    "success",
	})
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.outputs.Exists(name) {
		writeError(w, http.StatusNotFound, detailImageNotFound)
		return
	}
	path, err := s.outputs.Path(name)
	if err != nil {
		writeError(w, http.StatusNotFound, detailImageNotFound)
		return
	}
	http.ServeFile(w, r, path)
}

type historyResponse struct {
	TopicID string     `json:"topic_id"`
	Turns   []turnJSON `json:"turns"`
}

type turnJSON struct {
	Role  string     `json:"role"`
	Parts []partJSON `json:"parts"`
}

type partJSON struct {
	Text     string `json:"text,omitempty"`
	URI      string `json:"uri,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	topicID := r.PathValue("topic_id")
	session, ok := s.registry.Lookup(topicID)
	if !ok {
		writeError(w, http.StatusNotFound, detailTopicNotFound)
		return
	}

	history := session.History()
	resp := historyResponse{
		TopicID: topicID,
		Turns:   make([]turnJSON, 0, len(history)),
	}
	for _, turn := range history {
		tj := turnJSON{Role: string(turn.Role), Parts: make([]partJSON, 0, len(turn.Parts))}
		for _, p := range turn.Parts {
			if p.IsAsset() {
				tj.Parts = append(tj.Parts, partJSON{URI: p.Asset.URI, MIMEType: p.Asset.MIMEType})
				continue
			}
			tj.Parts = append(tj.Parts, partJSON{Text: p.Text})
		}
		resp.Turns = append(resp.Turns, tj)
	}

	writeJSON(w, http.StatusOK, resp)
}

// uploadedFiles returns the "files" parts, skipping the empty part a browser
// submits when no file was chosen.
func uploadedFiles(form *multipart.Form) []*multipart.FileHeader {
	if form == nil {
		return nil
	}
	files := make([]*multipart.FileHeader, 0, len(form.File["files"]))
	for _, fh := range form.File["files"] {
		if fh.Filename == "" && fh.Size == 0 {
			continue
		}
		files = append(files, fh)
	}
	return files
}

// saveUploads validates and writes every uploaded file to the upload store,
// returning them in form order with their validated MIME types. If any file
// fails, the ones already written are removed.
func (s *Server) saveUploads(files []*multipart.FileHeader, ts time.Time) ([]imagechat.InputImage, error) {
	if len(files) == 0 {
		return nil, nil
	}

	names := s.uploads.Allocate(uploadPrefix, ts, len(files))
	defer s.uploads.Release(names...)

	images := make([]imagechat.InputImage, 0, len(files))
	for i, fh := range files {
		img, err := s.saveUpload(fh, names[i])
		if err != nil {
			if rmErr := s.uploads.Remove(names[:i+1]...); rmErr != nil {
				s.logger.Warn("failed to remove partial uploads", "error", rmErr.Error())
			}
			return nil, fmt.Errorf("file %d (%s): %w", i, fh.Filename, err)
		}
		images = append(images, img)
	}
	return images, nil
}

func (s *Server) saveUpload(fh *multipart.FileHeader, name string) (imagechat.InputImage, error) {
	f, err := fh.Open()
	if err != nil {
		return imagechat.InputImage{}, err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return imagechat.InputImage{}, err
	}
	head = head[:n]

	mimeType := http.DetectContentType(head)
	if !imagechat.ValidMIMETypes[mimeType] {
		mimeType = fh.Header.Get("Content-Type")
	}
	if err := imagechat.ValidateUpload(fh.Size, mimeType); err != nil {
		return imagechat.InputImage{}, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return imagechat.InputImage{}, err
	}
	if _, err := s.uploads.Write(name, f); err != nil {
		return imagechat.InputImage{}, err
	}
	path, err := s.uploads.Path(name)
	if err != nil {
		return imagechat.InputImage{}, err
	}
	return imagechat.InputImage{Path: path, MIMEType: mimeType}, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}
