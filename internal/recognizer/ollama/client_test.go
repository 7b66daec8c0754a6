package ollama

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

func fakeOllama(t *testing.T, status int, modelOutput string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req generateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.False(t, req.Stream)

		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(generateResponse{Response: modelOutput})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Recognize(t *testing.T) {
	out := `Here you go: [{"text":"John Doe","type":"PERSON","confidence":0.93},` +
		`{"text":"Berlin","type":"location","confidence":0.8},` +
		`{"text":"widget","type":"PRODUCT","confidence":0.9}]`
	srv := fakeOllama(t, http.StatusOK, out)

	c := New(Config{Endpoint: srv.URL + "/", Model: "test-model"}, nil)
	spans, err := c.Recognize(context.Background(), "John Doe moved to Berlin. John Doe likes it.", "en")
	require.NoError(t, err)

	require.Len(t, spans, 3)
	assert.Equal(t, types.Span{Start: 0, End: 8, Text: "John Doe", EntityType: types.EntityPerson, Confidence: 0.93, Source: types.SourceModel}, spans[0])
	assert.Equal(t, 26, spans[1].Start)
	assert.Equal(t, types.EntityLocation, spans[2].EntityType)
	assert.Equal(t, "Berlin", spans[2].Text)
}

func TestClient_EmptyArray(t *testing.T) {
	srv := fakeOllama(t, http.StatusOK, `[]`)

	spans, err := New(Config{Endpoint: srv.URL, Model: "test-model"}, nil).Recognize(context.Background(), "nothing here", "en")
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestClient_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		output string
	}{
		{"server error", http.StatusInternalServerError, `[]`},
		{"no array", http.StatusOK, `I could not find anything`},
		{"broken array", http.StatusOK, `[{"text": }]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakeOllama(t, tt.status, tt.output)
			_, err := New(Config{Endpoint: srv.URL, Model: "test-model"}, nil).Recognize(context.Background(), "John", "en")
			assert.ErrorIs(t, err, types.ErrRecognitionFailure)
		})
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The request context is only canceled once the body is consumed.
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := New(Config{Endpoint: srv.URL, Model: "test-model", Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	_, err := c.Recognize(context.Background(), "John", "en")
	assert.ErrorIs(t, err, types.ErrRecognitionFailure)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_Unreachable(t *testing.T) {
	c := New(Config{Endpoint: "http://127.0.0.1:1", Model: "m"}, nil)
	_, err := c.Recognize(context.Background(), "John", "en")
	assert.ErrorIs(t, err, types.ErrRecognitionFailure)
}
