package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"

	"github.com/vango-go/vai-voice/pkg/core"
)

const (
	openAIName      = "openai"
	defaultLanguage = "ja"
	defaultFormat   = "webm"

	// Clips below this size are treated as silence.
	minAudioBytes = 1024
)

var contentTypes = map[string]string{
	"webm": "audio/webm",
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"m4a":  "audio/mp4",
}

// OpenAI transcribes audio with the whisper endpoint.
type OpenAI struct {
	client   openai.Client
	language string
}

// NewOpenAI creates a transcriber on an existing OpenAI client. An empty
// language selects Japanese.
func NewOpenAI(client openai.Client, language string) *OpenAI {
	if language == "" {
		language = defaultLanguage
	}
	return &OpenAI{client: client, language: language}
}

// Name returns "openai".
func (p *OpenAI) Name() string {
	return openAIName
}

// Transcribe uploads the clip and returns the trimmed transcript. Clips too
// short to hold speech return an empty transcript without calling upstream.
func (p *OpenAI) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return nil, fmt.Errorf("stt: read audio: %w", err)
	}
	lang := opts.Language
	if lang == "" {
		lang = p.language
	}
	if len(data) < minAudioBytes {
		return &Transcript{Language: lang}, nil
	}

	format := strings.ToLower(opts.Format)
	if format == "" {
		format = defaultFormat
	}
	contentType, ok := contentTypes[format]
	if !ok {
		contentType = "application/octet-stream"
	}
	model := openai.AudioModel(opts.Model)
	if model == "" {
		model = openai.AudioModelWhisper1
	}

	params := openai.AudioTranscriptionNewParams{
		File:     openai.File(bytes.NewReader(data), "audio."+format, contentType),
		Model:    model,
		Language: openai.String(lang),
	}
	if opts.Prompt != "" {
		params.Prompt = openai.String(opts.Prompt)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, core.NewUpstreamError(openAIName, apiErr.StatusCode, err)
		}
		return nil, fmt.Errorf("stt: openai transcription: %w", err)
	}
	return &Transcript{Text: strings.TrimSpace(resp.Text), Language: lang}, nil
}
