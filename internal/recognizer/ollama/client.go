// Package ollama is a recognizer oracle backed by a local Ollama model.
// The model is prompted for a JSON array of entity strings; every occurrence
// of each string in the unit becomes a candidate span.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/anonymizer/internal/recognizer"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

const maxResponse = 10 << 20 // 10 MB

// Config configures the client.
type Config struct {
	Endpoint    string        // base URL, e.g. http://localhost:11434
	Model       string        // model tag
	Timeout     time.Duration // per request; zero means 30s
	Concurrency int           // concurrent requests; zero means 1
}

// Client implements recognizer.Oracle over the /api/generate endpoint.
type Client struct {
	url     string
	model   string
	timeout time.Duration
	http    *http.Client
	sem     chan struct{}
	log     *zap.Logger
}

var _ recognizer.Oracle = (*Client)(nil)

// New returns a client. A nil logger disables logging.
func New(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	n := cfg.Concurrency
	if n <= 0 {
		n = 1
	}
	return &Client{
		url:     strings.TrimRight(cfg.Endpoint, "/") + "/api/generate",
		model:   cfg.Model,
		timeout: timeout,
		http:    &http.Client{},
		sem:     make(chan struct{}, n),
		log:     log.Named("ollama"),
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

type detection struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

const promptTemplate = `Find the named entities in the text below. The text is in language %q.
Return ONLY a JSON array. Each item must have:
- "text": the exact substring as it appears in the text
- "type": one of PERSON, LOCATION, ORGANIZATION, EMAIL, PHONE
- "confidence": float 0.0-1.0

Text:
%s

Example: [{"text":"John Smith","type":"PERSON","confidence":0.95}]`

// Recognize asks the model for entities in text. Transport, status and parse
// failures wrap types.ErrRecognitionFailure.
func (c *Client) Recognize(ctx context.Context, text, language string) ([]types.Span, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", types.ErrRecognitionFailure, ctx.Err())
	}

	detections, err := c.query(ctx, text, language)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", types.ErrRecognitionFailure, err)
	}

	var spans []types.Span
	for _, d := range detections {
		entityType, ok := recognizer.MapLabel(d.Type)
		if !ok {
			c.log.Debug("dropping unmapped label", zap.String("label", d.Type))
			continue
		}
		spans = append(spans, recognizer.FindAll(text, d.Text, entityType, d.Confidence)...)
	}
	return spans, nil
}

func (c *Client) query(ctx context.Context, text, language string) ([]detection, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: fmt.Sprintf(promptTemplate, language, text),
		Stream: false,
		Format: "json",
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close on HTTP response body

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse+1))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	if len(raw) > maxResponse {
		return nil, fmt.Errorf("response exceeds %d bytes", maxResponse)
	}

	var gen generateResponse
	if err := json.Unmarshal(raw, &gen); err != nil {
		return nil, fmt.Errorf("response parse error: %w", err)
	}
	return parseDetections(gen.Response)
}

// parseDetections extracts the JSON array from the model's text output.
// An empty array is a valid answer.
func parseDetections(out string) ([]detection, error) {
	out = strings.TrimSpace(out)
	start := strings.Index(out, "[")
	end := strings.LastIndex(out, "]")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON array in model output")
	}

	var detections []detection
	if err := json.Unmarshal([]byte(out[start:end+1]), &detections); err != nil {
		return nil, fmt.Errorf("detection parse error: %w", err)
	}
	return detections, nil
}
