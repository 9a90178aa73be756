package imagechat

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxSessions is the number of topics kept resident when no limit is set.
const DefaultMaxSessions = 1024

// Registry maps topic ids to their Session. Sessions live until the process
// exits or until they are the least recently used idle entry of a full
// registry. A busy session is never evicted, so a full registry of busy
// sessions may briefly hold more than its limit.
type Registry struct {
	client      ModelClient
	genConfig   *GenerateConfig
	logger      *slog.Logger
	maxSessions int

	mu       sync.Mutex
	sessions *lru.Cache[string, *Session]
}

// RegistryOption configures the Registry.
type RegistryOption func(*Registry)

// WithLogger sets a structured logger for the registry and its sessions.
func WithLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithGenerateConfig sets the generation parameters new sessions use.
func WithGenerateConfig(genConfig *GenerateConfig) RegistryOption {
	return func(r *Registry) {
		r.genConfig = genConfig
	}
}

// WithMaxSessions caps the number of resident sessions.
func WithMaxSessions(n int) RegistryOption {
	return func(r *Registry) {
		r.maxSessions = n
	}
}

// NewRegistry creates a Registry whose sessions talk to client.
//
// Example:
//
//	client, err := gemini.NewWithAPIKey(ctx, apiKey)
//	if err != nil {
//	    return err
//	}
//	registry, err := imagechat.NewRegistry(client,
//	    imagechat.WithLogger(slog.Default()),
//	    imagechat.WithMaxSessions(256),
//	)
func NewRegistry(client ModelClient, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		client:      client,
		genConfig:   DefaultConfig(),
		logger:      slog.Default(),
		maxSessions: DefaultMaxSessions,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.maxSessions < 1 {
		return nil, fmt.Errorf("max sessions must be positive, got %d", r.maxSessions)
	}

	// The cache only keeps recency order; evictIdle enforces maxSessions.
	sessions, err := lru.NewWithEvict[string, *Session](math.MaxInt, r.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create session cache: %w", err)
	}
	r.sessions = sessions

	return r, nil
}

// GetOrCreate returns the session for topicID, creating an empty one on
// first use. Repeated calls return the same *Session while it is resident.
func (r *Registry) GetOrCreate(topicID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.getOrCreate(topicID)
}

// Acquire is GetOrCreate for a caller about to use the session. The session
// is not evicted until release is called.
func (r *Registry) Acquire(topicID string) (s *Session, release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s = r.getOrCreate(topicID)
	s.inFlight.Add(1)

	var once sync.Once
	return s, func() {
		once.Do(func() { s.inFlight.Add(-1) })
	}
}

func (r *Registry) getOrCreate(topicID string) *Session {
	if s, ok := r.sessions.Get(topicID); ok {
		return s
	}

	s := NewSession(topicID, r.client, r.genConfig, r.logger)
	r.sessions.Add(topicID, s)
	r.evictIdle(topicID)

	r.logger.Debug("session created",
		"topic_id", topicID,
		"sessions", r.sessions.Len(),
	)
	return s
}

// evictIdle drops the least recently used idle sessions until the registry
// is within maxSessions. keep is never dropped. Callers hold r.mu.
func (r *Registry) evictIdle(keep string) {
	excess := r.sessions.Len() - r.maxSessions
	if excess <= 0 {
		return
	}
	for _, topicID := range r.sessions.Keys() {
		if excess == 0 {
			return
		}
		if topicID == keep {
			continue
		}
		s, ok := r.sessions.Peek(topicID)
		if !ok || s.Busy() {
			continue
		}
		r.sessions.Remove(topicID)
		excess--
	}
	if excess > 0 {
		r.logger.Warn("session limit exceeded by busy sessions",
			"sessions", r.sessions.Len(),
			"max_sessions", r.maxSessions,
		)
	}
}

// Lookup returns the session for topicID without creating it or
// refreshing its recency.
func (r *Registry) Lookup(topicID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions.Peek(topicID)
}

// Remove drops the session for topicID. It reports whether one existed.
func (r *Registry) Remove(topicID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions.Remove(topicID)
}

// Len returns the number of resident sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sessions.Len()
}

// Close drops every session and releases the model client.
func (r *Registry) Close() error {
	r.mu.Lock()
	r.sessions.Purge()
	r.mu.Unlock()

	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Registry) onEvict(topicID string, s *Session) {
	r.logger.Info("session evicted",
		"topic_id", topicID,
		"turns", len(s.History()),
		"last_used", s.LastUsed(),
	)
}
