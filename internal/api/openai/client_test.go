package openai

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akeswens/llm-gateway/internal/domain"
	"github.com/akeswens/llm-gateway/internal/testutil"
)

func TestCreateChatCompletion(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3, "total_tokens": 12}
		}`))
	}))
	defer srv.Close()

	client := NewClient("sk-test", WithBaseURL(srv.URL))
	resp, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "hi there" {
		t.Errorf("choices = %+v", resp.Choices)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("total tokens = %d, want 12", resp.Usage.TotalTokens)
	}
}

func TestCreateChatCompletionErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantType   domain.ErrorType
		wantStatus int
	}{
		{
			name:       "rate limit payload",
			status:     http.StatusTooManyRequests,
			body:       `{"error": {"message": "Rate limit reached", "type": "rate_limit_error"}}`,
			wantType:   domain.ErrorTypeRateLimit,
			wantStatus: 429,
		},
		{
			name:       "auth payload",
			status:     http.StatusUnauthorized,
			body:       `{"error": {"message": "Incorrect API key", "type": "authentication_error"}}`,
			wantType:   domain.ErrorTypeAuthentication,
			wantStatus: 401,
		},
		{
			name:       "unparseable body keeps status",
			status:     http.StatusServiceUnavailable,
			body:       `upstream connect error`,
			wantType:   domain.ErrorTypeOverloaded,
			wantStatus: 503,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			client := NewClient("sk-test", WithBaseURL(srv.URL))
			_, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "gpt-4o"})
			if err == nil {
				t.Fatal("want error")
			}

			var apiErr *domain.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error %T is not *domain.APIError", err)
			}
			if apiErr.Type != tt.wantType {
				t.Errorf("type = %q, want %q", apiErr.Type, tt.wantType)
			}
			if apiErr.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", apiErr.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"object": "list", "data": [{"id": "gpt-4o", "object": "model"}, {"id": "gpt-4o-mini", "object": "model"}]}`))
	}))
	defer srv.Close()

	client := NewClient("sk-test", WithBaseURL(srv.URL))
	list, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(list.Data) != 2 || list.Data[0].ID != "gpt-4o" {
		t.Errorf("models = %+v", list.Data)
	}
}

func TestListModelsRecorded(t *testing.T) {
	rec, cleanup := testutil.NewVCRRecorder(t, "openai_models")
	defer cleanup()

	client := NewClient("sk-test", WithHTTPClient(testutil.VCRHTTPClient(rec)))
	list, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(list.Data) != 3 {
		t.Fatalf("models = %d, want 3", len(list.Data))
	}
	if list.Data[0].ID != "gpt-4o" || list.Data[0].OwnedBy != "system" {
		t.Errorf("first model = %+v", list.Data[0])
	}
}
