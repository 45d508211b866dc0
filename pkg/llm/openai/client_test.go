package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/deskmate/pkg/llm"
)

func chatHandler(t *testing.T, content string, check func(reqBody map[string]any)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var reqBody map[string]any
		if err := json.Unmarshal(body, &reqBody); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		if check != nil {
			check(reqBody)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
			"usage": map[string]any{
				"prompt_tokens":     10,
				"completion_tokens": 5,
				"total_tokens":      15,
			},
		})
	}
}

func TestOpenAIClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("missing or invalid auth header")
		}
		chatHandler(t, "test response", nil)(w, r)
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "test-key", Model: "gpt-4o-mini"})

	resp, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hello"}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "test response" {
		t.Errorf("expected 'test response', got %s", resp.Content)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 || resp.Usage.TotalTokens != 15 {
		t.Errorf("unexpected usage %+v", resp.Usage)
	}
}

func TestOpenAIClientRequestFormat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("expected path '/v1/chat/completions', got %q", r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected Content-Type 'application/json', got %q", r.Header.Get("Content-Type"))
		}
		chatHandler(t, "{}", func(reqBody map[string]any) {
			if reqBody["model"] != "gpt-4" {
				t.Errorf("expected model 'gpt-4', got %v", reqBody["model"])
			}
			messages, ok := reqBody["messages"].([]any)
			if !ok || len(messages) != 2 {
				t.Errorf("expected 2 messages, got %v", reqBody["messages"])
			}
			format, ok := reqBody["response_format"].(map[string]any)
			if !ok || format["type"] != "json_object" {
				t.Errorf("expected json_object response format, got %v", reqBody["response_format"])
			}
		})(w, r)
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL + "/v1", APIKey: "key", Model: "gpt-4", JSONMode: true})
	_, err := client.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "classify"},
		{Role: llm.RoleUser, Content: "test"},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenAIClientOmitsResponseFormat(t *testing.T) {
	server := httptest.NewServer(chatHandler(t, "hi", func(reqBody map[string]any) {
		if _, ok := reqBody["response_format"]; ok {
			t.Error("response_format should be omitted without JSON mode")
		}
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, Model: "gpt-4"})
	if _, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "x"}}); err != nil {
		t.Fatal(err)
	}
}

func TestOpenAIClientAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "bad-key", Model: "gpt-4"})
	_, err := client.Complete(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "hello"}})
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	var apiErr *llm.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *llm.APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized || apiErr.Code != "invalid_api_key" {
		t.Errorf("unexpected api error %+v", apiErr)
	}
}

func TestGenerateImage(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		if req["prompt"] != "a red fox" {
			t.Errorf("unexpected prompt %v", req["prompt"])
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(png)}},
		})
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k"})
	img, err := client.GenerateImage(context.Background(), ImageRequest{Model: "gpt-image-1", Prompt: "a red fox", Size: "1024x1024"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := img.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != string(png) {
		t.Errorf("unexpected image bytes %v", data)
	}
}

func TestEditImageMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		if r.FormValue("prompt") != "make it blue" {
			t.Errorf("unexpected prompt %q", r.FormValue("prompt"))
		}
		f, _, err := r.FormFile("image")
		if err != nil {
			t.Errorf("missing image: %v", err)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data) != "src" {
			t.Errorf("unexpected image data %q", data)
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"url": "https://img/1.png"}}})
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k"})
	img, err := client.EditImage(context.Background(), []byte("src"), ImageRequest{Prompt: "make it blue"})
	if err != nil {
		t.Fatal(err)
	}
	if img.URL != "https://img/1.png" {
		t.Errorf("unexpected url %q", img.URL)
	}
	if _, err := img.Bytes(); err == nil {
		t.Error("expected error decoding url-only image")
	}
}

func TestTranscribeAndSpeech(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio/transcriptions":
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
				return
			}
			_, hdr, err := r.FormFile("file")
			if err != nil || hdr.Filename != "voice.ogg" {
				t.Errorf("unexpected file %v %v", hdr, err)
			}
			json.NewEncoder(w).Encode(map[string]string{"text": "remind me to call mom"})
		case "/audio/speech":
			var req map[string]string
			json.NewDecoder(r.Body).Decode(&req)
			if req["input"] != "Done." || req["response_format"] != "opus" {
				t.Errorf("unexpected speech request %v", req)
			}
			w.Write([]byte("OggS"))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	}))
	defer server.Close()

	client := New(&llm.Config{BaseURL: server.URL, APIKey: "k"})
	text, err := client.Transcribe(context.Background(), "whisper-1", "voice.ogg", []byte("audio"))
	if err != nil {
		t.Fatal(err)
	}
	if text != "remind me to call mom" {
		t.Errorf("unexpected transcript %q", text)
	}

	audio, err := client.Speech(context.Background(), SpeechRequest{Model: "tts-1", Voice: "alloy", Format: "opus", Input: "Done."})
	if err != nil {
		t.Fatal(err)
	}
	if string(audio) != "OggS" {
		t.Errorf("unexpected audio %q", audio)
	}
}

func TestOpenAIClientProviderInterface(t *testing.T) {
	var _ llm.Provider = (*Client)(nil)
}
