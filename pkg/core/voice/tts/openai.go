package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/openai/openai-go"

	"github.com/vango-go/vai-voice/pkg/core"
)

const (
	openAIName         = "openai"
	defaultOpenAIVoice = "alloy"
	defaultFormat      = "mp3"
	maxAudioBytes      = 16 << 20
)

// OpenAI synthesizes speech with the OpenAI speech endpoint.
type OpenAI struct {
	client openai.Client
	model  openai.SpeechModel
}

// NewOpenAI creates a speech provider on an existing OpenAI client.
func NewOpenAI(client openai.Client) *OpenAI {
	return &OpenAI{client: client, model: openai.SpeechModelTTS1}
}

// Name returns "openai".
func (p *OpenAI) Name() string {
	return openAIName
}

// Synthesize renders text and returns the encoded audio.
func (p *OpenAI) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Synthesis, error) {
	voice := opts.Voice
	if voice == "" {
		voice = defaultOpenAIVoice
	}
	format := opts.Format
	if format == "" {
		format = defaultFormat
	}

	params := openai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          text,
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormat(format),
	}
	if opts.Speed > 0 {
		params.Speed = openai.Float(opts.Speed)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, core.NewUpstreamError(openAIName, apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("tts: openai speech: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("tts: read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	return &Synthesis{Audio: audio, Format: format}, nil
}
