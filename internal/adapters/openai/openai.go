// Package openai implements the image and speech adapters over an
// OpenAI-compatible API.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/types"
	"github.com/user/deskmate/pkg/llm"
	openaiclient "github.com/user/deskmate/pkg/llm/openai"
)

const (
	DefaultImageModel      = "dall-e-3"
	DefaultImageSize       = "1024x1024"
	DefaultTranscribeModel = "whisper-1"
	DefaultSpeechModel     = "tts-1"
	DefaultVoice           = "alloy"
	DefaultSpeechFormat    = "opus"

	maxDownload = 20 << 20
)

// Options selects models. Zero values take the defaults above.
type Options struct {
	ImageModel      string
	ImageSize       string
	TranscribeModel string
	SpeechModel     string
	Voice           string
	// SpeechFormat is the synthesized audio encoding: "opus" (ogg), "mp3"
	// or "wav".
	SpeechFormat string
	HTTPClient   *http.Client
}

func (o Options) withDefaults() Options {
	if o.ImageModel == "" {
		o.ImageModel = DefaultImageModel
	}
	if o.ImageSize == "" {
		o.ImageSize = DefaultImageSize
	}
	if o.TranscribeModel == "" {
		o.TranscribeModel = DefaultTranscribeModel
	}
	if o.SpeechModel == "" {
		o.SpeechModel = DefaultSpeechModel
	}
	if o.Voice == "" {
		o.Voice = DefaultVoice
	}
	if o.SpeechFormat == "" {
		o.SpeechFormat = DefaultSpeechFormat
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return o
}

// Media is both the Image and the Speech adapter.
type Media struct {
	client *openaiclient.Client
	opts   Options
}

var (
	_ adapters.Image  = (*Media)(nil)
	_ adapters.Speech = (*Media)(nil)
)

func New(client *openaiclient.Client, opts Options) *Media {
	return &Media{client: client, opts: opts.withDefaults()}
}

func (m *Media) Generate(ctx context.Context, prompt, style string) (adapters.ImageRef, error) {
	if strings.TrimSpace(prompt) == "" {
		return adapters.ImageRef{}, adapters.NewError(adapters.KindValidation, "image.generate", "the image needs a description", nil)
	}
	if style != "" {
		prompt = fmt.Sprintf("%s, in %s style", prompt, style)
	}
	img, err := m.client.GenerateImage(ctx, openaiclient.ImageRequest{
		Model:  m.opts.ImageModel,
		Prompt: prompt,
		Size:   m.opts.ImageSize,
	})
	if err != nil {
		return adapters.ImageRef{}, mapError("image.generate", err)
	}
	return m.materialize(ctx, "image.generate", img)
}

func (m *Media) Edit(ctx context.Context, src adapters.ImageRef, instruction string) (adapters.ImageRef, error) {
	if len(src.Data) == 0 {
		return adapters.ImageRef{}, adapters.NewError(adapters.KindValidation, "image.edit", "there is no image to edit", nil)
	}
	pngData, err := toPNG(src.Data)
	if err != nil {
		return adapters.ImageRef{}, adapters.NewError(adapters.KindFormat, "image.edit", "I can only edit PNG, JPEG or GIF images", err)
	}
	img, err := m.client.EditImage(ctx, pngData, openaiclient.ImageRequest{
		Prompt: instruction,
		Size:   m.opts.ImageSize,
	})
	if err != nil {
		return adapters.ImageRef{}, mapError("image.edit", err)
	}
	return m.materialize(ctx, "image.edit", img)
}

func (m *Media) Transcribe(ctx context.Context, audio types.Audio) (string, error) {
	if len(audio.Data) == 0 {
		return "", adapters.NewError(adapters.KindFormat, "speech.transcribe", "empty audio", nil)
	}
	format := audio.Format
	if format == "" {
		format = "ogg"
	}
	text, err := m.client.Transcribe(ctx, m.opts.TranscribeModel, "voice."+format, audio.Data)
	if err != nil {
		return "", mapError("speech.transcribe", err)
	}
	return strings.TrimSpace(text), nil
}

func (m *Media) Synthesize(ctx context.Context, text string) (types.Audio, error) {
	data, err := m.client.Speech(ctx, openaiclient.SpeechRequest{
		Model:  m.opts.SpeechModel,
		Voice:  m.opts.Voice,
		Format: m.opts.SpeechFormat,
		Input:  text,
	})
	if err != nil {
		return types.Audio{}, mapError("speech.synthesize", err)
	}
	format := m.opts.SpeechFormat
	if format == "opus" {
		format = "ogg"
	}
	return types.Audio{Data: data, Format: format}, nil
}

// materialize makes sure the image carries its bytes, downloading them
// when the API answered with a URL.
func (m *Media) materialize(ctx context.Context, op string, img openaiclient.Image) (adapters.ImageRef, error) {
	ref := adapters.ImageRef{URL: img.URL, MimeType: "image/png"}
	if img.B64 != "" {
		data, err := img.Bytes()
		if err != nil {
			return adapters.ImageRef{}, adapters.NewError(adapters.KindRemote, op, "", err)
		}
		ref.Data = data
		return ref, nil
	}
	if img.URL == "" {
		return adapters.ImageRef{}, adapters.NewError(adapters.KindRemote, op, "", errors.New("response has no image"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.URL, nil)
	if err != nil {
		return adapters.ImageRef{}, fmt.Errorf("%s: create request: %w", op, err)
	}
	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return adapters.ImageRef{}, adapters.NewError(adapters.KindRemote, op, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return adapters.ImageRef{}, adapters.NewError(adapters.KindRemote, op, "", fmt.Errorf("download image: status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownload))
	if err != nil {
		return adapters.ImageRef{}, adapters.NewError(adapters.KindRemote, op, "", err)
	}
	ref.Data = data
	if ct := resp.Header.Get("Content-Type"); strings.HasPrefix(ct, "image/") {
		ref.MimeType = ct
	}
	return ref, nil
}

// toPNG re-encodes data as PNG, which the edit endpoint requires.
func toPNG(data []byte) ([]byte, error) {
	if http.DetectContentType(data) == "image/png" {
		return data, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// mapError maps provider failures onto the adapter error taxonomy.
func mapError(op string, err error) error {
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return err
		}
		return adapters.NewError(adapters.KindRemote, op, "", err)
	}

	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden:
		return adapters.NewError(adapters.KindAuth, op, "", err)
	case apiErr.Code == "content_policy_violation" || strings.Contains(msg, "safety system"):
		return adapters.NewError(adapters.KindContentPolicy, op, "", err)
	case strings.HasPrefix(op, "speech.transcribe") && apiErr.StatusCode == http.StatusBadRequest:
		return adapters.NewError(adapters.KindFormat, op, "", err)
	case apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity:
		return adapters.NewError(adapters.KindValidation, op, apiErr.Message, err)
	default:
		return adapters.NewError(adapters.KindRemote, op, "", err)
	}
}
