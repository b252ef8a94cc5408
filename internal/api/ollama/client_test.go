package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akeswens/llm-gateway/internal/domain"
)

func TestChat(t *testing.T) {
	var gotReq ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{
			"model": "llama3:8b",
			"message": {"role": "assistant", "content": "42"},
			"done": true,
			"prompt_eval_count": 25,
			"eval_count": 2
		}`))
	}))
	defer srv.Close()

	temp := 0.2
	client := NewClient(WithBaseURL(srv.URL))
	resp, err := client.Chat(context.Background(), &ChatRequest{
		Model:    "llama3:8b",
		Messages: []Message{{Role: "user", Content: "meaning of life?"}},
		Options:  &Options{Temperature: &temp, NumPredict: 10},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if gotReq.Stream {
		t.Error("stream should be forced false")
	}
	if gotReq.Options == nil || gotReq.Options.NumPredict != 10 {
		t.Errorf("options = %+v", gotReq.Options)
	}
	if resp.Message.Content != "42" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.PromptEvalCount != 25 || resp.EvalCount != 2 {
		t.Errorf("counts = %d/%d", resp.PromptEvalCount, resp.EvalCount)
	}
}

func TestChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "model 'missing:7b' not found"}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	_, err := client.Chat(context.Background(), &ChatRequest{Model: "missing:7b"})
	if err == nil {
		t.Fatal("want error")
	}

	var apiErr *domain.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error %T is not *domain.APIError", err)
	}
	if apiErr.Type != domain.ErrorTypeNotFound {
		t.Errorf("type = %q, want not_found", apiErr.Type)
	}
	if apiErr.Message != "model 'missing:7b' not found" {
		t.Errorf("message = %q", apiErr.Message)
	}
}

func TestListTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"models": [{"name": "llama3:8b"}, {"name": "qwen2.5:32b-instruct"}]}`))
	}))
	defer srv.Close()

	client := NewClient(WithBaseURL(srv.URL))
	tags, err := client.ListTags(context.Background())
	if err != nil {
		t.Fatalf("ListTags: %v", err)
	}
	if len(tags.Models) != 2 || tags.Models[1].Name != "qwen2.5:32b-instruct" {
		t.Errorf("models = %+v", tags.Models)
	}
}
