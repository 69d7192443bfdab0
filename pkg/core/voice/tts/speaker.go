package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
)

// URLPrefix is the public path synthesized files are served under.
const URLPrefix = "/audio/"

const defaultCacheEntries = 1000

// SpeakerConfig configures a Speaker.
type SpeakerConfig struct {
	Provider     Provider
	Dir          string // directory audio files are written to
	Options      SynthesizeOptions
	CacheEntries int // 0 uses the default, negative disables the cache
	Logger       *slog.Logger
}

// Speaker turns reply text into a servable audio handle.
type Speaker struct {
	provider Provider
	dir      string
	opts     SynthesizeOptions
	logger   *slog.Logger

	mu       sync.Mutex
	cache    map[string]string
	order    []string
	maxCache int
}

// NewSpeaker creates the audio directory and returns a Speaker writing into it.
func NewSpeaker(cfg SpeakerConfig) (*Speaker, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("tts: provider is required")
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("tts: audio dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("tts: create audio dir: %w", err)
	}
	if cfg.Options.Format == "" {
		cfg.Options.Format = defaultFormat
	}
	maxCache := cfg.CacheEntries
	if maxCache == 0 {
		maxCache = defaultCacheEntries
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		provider: cfg.Provider,
		dir:      cfg.Dir,
		opts:     cfg.Options,
		logger:   logger,
		cache:    make(map[string]string),
		maxCache: maxCache,
	}, nil
}

// Name returns the underlying provider name.
func (s *Speaker) Name() string {
	return s.provider.Name()
}

// Dir returns the directory audio files are written to.
func (s *Speaker) Dir() string {
	return s.dir
}

// Synthesize renders text, stores it as <dir>/<id>.<format> and returns
// its URL. Blank text yields an empty handle.
func (s *Speaker) Synthesize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}

	key := s.cacheKey(text)
	if url, ok := s.cached(key); ok {
		return url, nil
	}

	out, err := s.provider.Synthesize(ctx, text, s.opts)
	if err != nil {
		return "", err
	}
	format := out.Format
	if format == "" {
		format = s.opts.Format
	}

	name := uuid.NewString() + "." + format
	if err := renameio.WriteFile(filepath.Join(s.dir, name), out.Audio, 0o644); err != nil {
		return "", fmt.Errorf("tts: write audio: %w", err)
	}
	url := URLPrefix + name
	s.remember(key, url)
	s.logger.Debug("speech synthesized", "provider", s.provider.Name(), "file", name, "bytes", len(out.Audio))
	return url, nil
}

func (s *Speaker) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(s.opts.Voice + "\x00" + s.opts.Format + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (s *Speaker) cached(key string) (string, bool) {
	if s.maxCache < 0 {
		return "", false
	}
	s.mu.Lock()
	url, ok := s.cache[key]
	s.mu.Unlock()
	if !ok {
		return "", false
	}
	if _, err := os.Stat(filepath.Join(s.dir, strings.TrimPrefix(url, URLPrefix))); err != nil {
		s.mu.Lock()
		delete(s.cache, key)
		s.mu.Unlock()
		return "", false
	}
	return url, true
}

func (s *Speaker) remember(key, url string) {
	if s.maxCache < 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cache[key]; !ok {
		s.order = append(s.order, key)
	}
	s.cache[key] = url
	for len(s.order) > s.maxCache {
		delete(s.cache, s.order[0])
		s.order = s.order[1:]
	}
}
