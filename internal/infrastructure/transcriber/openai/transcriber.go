// Package openai transcribes audio through an OpenAI-compatible
// /audio/transcriptions endpoint (OpenAI, Azure, or a local whisper server).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

type Transcriber struct {
	model          string
	transcriptions openai.AudioTranscriptionService
}

type Option func(*config)

type config struct {
	token  string
	client *http.Client
}

func WithToken(token string) Option {
	return func(c *config) { c.token = token }
}

func WithClient(client *http.Client) Option {
	return func(c *config) { c.client = client }
}

func New(url, model string, options ...Option) *Transcriber {
	cfg := &config{client: http.DefaultClient}
	for _, o := range options {
		o(cfg)
	}
	if url == "" {
		url = "https://api.openai.com/v1/"
	}
	if model == "" {
		model = "whisper-1"
	}

	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(url, "/") + "/"),
		option.WithHTTPClient(cfg.client),
		option.WithMaxRetries(1),
	}
	if cfg.token != "" {
		opts = append(opts, option.WithAPIKey(cfg.token))
	}
	return &Transcriber{
		model:          model,
		transcriptions: openai.NewAudioTranscriptionService(opts...),
	}
}

func (t *Transcriber) Transcribe(ctx context.Context, file domain.SourceFile) (string, error) {
	transcription, err := t.transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model:          openai.AudioModel(t.model),
		File:           openai.File(bytes.NewReader(file.Data), file.Name, file.MIME),
		ResponseFormat: openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", convertError(file.Name, err)
	}
	return strings.TrimSpace(transcription.Text), nil
}

func convertError(name string, err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) && (apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500) {
		return domain.WrapError(domain.ErrTemporary, "transcribe "+name, err)
	}
	return fmt.Errorf("transcribe %s: %w", name, err)
}
