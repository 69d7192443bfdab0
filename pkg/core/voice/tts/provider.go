// Package tts provides text-to-speech functionality.
package tts

import (
	"context"
	"errors"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error)
}

// SynthesizeOptions configures synthesis.
type SynthesizeOptions struct {
	Voice    string  // Voice identifier (default "alloy")
	Speed    float64 // Speed multiplier (0.25-4.0, default 1.0)
	Language string  // Language hint, informational for providers that infer it
	Format   string  // Output format: "mp3", "wav", "opus"
}

// Synthesis is the result of synthesis.
type Synthesis struct {
	Audio  []byte // Audio data
	Format string // Audio format
}

// ErrEmptyAudio is returned when a provider answers without audio data.
var ErrEmptyAudio = errors.New("tts: provider returned no audio")
