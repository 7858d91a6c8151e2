package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/lecture-queue/shared/logger"
)

func TestClient_Generate(t *testing.T) {
	var got generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"gpt-oss:20b","response":"# Notes\n- hello","done":true}`))
	}))
	defer server.Close()

	client := NewClient(Config{Endpoint: server.URL + "/api/generate"}, logger.NewNop().Logger)

	notes := client.Generate(context.Background(), "hello world")
	assert.Equal(t, "# Notes\n- hello", notes)

	assert.Equal(t, DefaultModel, got.Model)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.2, got.Options.Temperature, 1e-9)
	assert.InDelta(t, 0.9, got.Options.TopP, 1e-9)
	assert.True(t, strings.HasSuffix(strings.TrimSpace(got.Prompt), "hello world"))
}

func TestClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "model not loaded", http.StatusInternalServerError)
			},
			want: "## Error\nCould not connect to Ollama: ollama http 500: model not loaded",
		},
		{
			name: "missing response field",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"done":true}`))
			},
			want: "Error: Could not parse response.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClient(Config{Endpoint: server.URL}, logger.NewNop().Logger)
			assert.Equal(t, tt.want, client.Generate(context.Background(), "text"))
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	endpoint := server.URL
	server.Close()

	client := NewClient(Config{Endpoint: endpoint}, logger.NewNop().Logger)
	notes := client.Generate(context.Background(), "text")
	assert.True(t, strings.HasPrefix(notes, "## Error\nCould not connect to Ollama: "))
}

func TestNotesPrompt(t *testing.T) {
	prompt := NotesPrompt("the lecture {transcript}")
	assert.Contains(t, prompt, "Transcript:\nthe lecture {transcript}")
	assert.Contains(t, prompt, "## Key Concepts")
}
