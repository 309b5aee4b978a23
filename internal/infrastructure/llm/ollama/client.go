package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
	"github.com/kirillkom/financial-risk-analyzer/internal/infrastructure/resilience"
)

type Options struct {
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	Executor       *resilience.Executor
}

// Client talks to the Ollama generate API. All oracles built from one
// client share its rate limiter and circuit breaker.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	executor   *resilience.Executor
}

func New(baseURL, model string, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	limit := rate.Inf
	if opts.RateLimitRPS > 0 {
		limit = rate.Limit(opts.RateLimitRPS)
	}
	burst := opts.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	executor := opts.Executor
	if executor == nil {
		executor = resilience.NewExecutor(resilience.DefaultConfig())
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, burst),
		executor:   executor,
	}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

// Generate runs one deterministic completion.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	const operation = "ollama.generate"

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: rate limit wait: %w", operation, err)
	}

	req := generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: map[string]any{"temperature": 0},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", operation, err)
	}
	answer, err := resilience.Do(ctx, c.executor, operation, func(callCtx context.Context) (string, error) {
		return c.generate(callCtx, body)
	}, resilience.ClassifyHTTP)
	if err != nil {
		return "", resilience.MarkTemporary(operation, err, resilience.ClassifyHTTP)
	}
	return strings.TrimSpace(answer), nil
}

func (c *Client) generate(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return "", resilience.ReadStatusError("ollama", resp)
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return out.Response, nil
}

// StructureClassifier answers which of the three structure levels a text belongs to.
type StructureClassifier struct {
	client *Client
}

func NewStructureClassifier(client *Client) *StructureClassifier {
	return &StructureClassifier{client: client}
}

func (s *StructureClassifier) ClassifyStructure(ctx context.Context, text string) (domain.StructuralLabel, error) {
	answer, err := s.client.Generate(ctx, buildStructurePrompt(text))
	if err != nil {
		return "", err
	}
	return ParseStructuralLabel(answer), nil
}

// FieldExtractor asks for a single record field.
type FieldExtractor struct {
	client *Client
}

func NewFieldExtractor(client *Client) *FieldExtractor {
	return &FieldExtractor{client: client}
}

func (f *FieldExtractor) ExtractField(ctx context.Context, text, fieldPrompt string) (string, error) {
	return f.client.Generate(ctx, buildFieldPrompt(fieldPrompt, text))
}
