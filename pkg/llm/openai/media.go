package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
)

// Image is one generated or edited image. Exactly one of B64 or URL is set
// by the API depending on the response format.
type Image struct {
	B64           string `json:"b64_json,omitempty"`
	URL           string `json:"url,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// Bytes decodes the base64 payload.
func (i Image) Bytes() ([]byte, error) {
	if i.B64 == "" {
		return nil, fmt.Errorf("image has no inline data")
	}
	return base64.StdEncoding.DecodeString(i.B64)
}

type ImageRequest struct {
	Model  string
	Prompt string
	Size   string
}

type imagesResponse struct {
	Data []Image `json:"data"`
}

// GenerateImage calls /images/generations and returns the first image.
func (c *Client) GenerateImage(ctx context.Context, r ImageRequest) (Image, error) {
	body, err := json.Marshal(map[string]any{
		"model":  r.Model,
		"prompt": r.Prompt,
		"size":   r.Size,
		"n":      1,
	})
	if err != nil {
		return Image{}, fmt.Errorf("marshaling request: %w", err)
	}
	respBody, err := c.do(ctx, "/images/generations", "application/json", bytes.NewReader(body))
	if err != nil {
		return Image{}, err
	}
	return firstImage(respBody)
}

// EditImage calls /images/edits with src as the source PNG.
func (c *Client) EditImage(ctx context.Context, src []byte, r ImageRequest) (Image, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "image.png")
	if err != nil {
		return Image{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := fw.Write(src); err != nil {
		return Image{}, fmt.Errorf("writing image: %w", err)
	}
	fields := map[string]string{"model": r.Model, "prompt": r.Prompt, "size": r.Size, "n": "1"}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return Image{}, fmt.Errorf("writing field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return Image{}, fmt.Errorf("closing form: %w", err)
	}

	respBody, err := c.do(ctx, "/images/edits", mw.FormDataContentType(), &buf)
	if err != nil {
		return Image{}, err
	}
	return firstImage(respBody)
}

func firstImage(respBody []byte) (Image, error) {
	var resp imagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Image{}, fmt.Errorf("parsing response: %w", err)
	}
	if len(resp.Data) == 0 {
		return Image{}, fmt.Errorf("no images in response")
	}
	return resp.Data[0], nil
}

// Transcribe sends audio to /audio/transcriptions. filename carries the
// format hint the API uses to pick a decoder (e.g. "voice.ogg").
func (c *Client) Transcribe(ctx context.Context, model, filename string, audio []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("writing audio: %w", err)
	}
	if err := mw.WriteField("model", model); err != nil {
		return "", fmt.Errorf("writing field model: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("closing form: %w", err)
	}

	respBody, err := c.do(ctx, "/audio/transcriptions", mw.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	var resp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("parsing response: %w", err)
	}
	return resp.Text, nil
}

type SpeechRequest struct {
	Model  string
	Voice  string
	Format string
	Input  string
}

// Speech calls /audio/speech and returns the encoded audio.
func (c *Client) Speech(ctx context.Context, r SpeechRequest) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"model":           r.Model,
		"voice":           r.Voice,
		"input":           r.Input,
		"response_format": r.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return c.do(ctx, "/audio/speech", "application/json", bytes.NewReader(body))
}
