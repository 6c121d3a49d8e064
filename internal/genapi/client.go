package genapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"spriteforge/internal/domain"
)

// GenerateRequest is the provider's request shape, mapped from the
// normalized structured prompt.
type GenerateRequest struct {
	SpriteType  string            `json:"sprite_type"`
	Style       string            `json:"style"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Action      string            `json:"action"`
	Description string            `json:"description"`
	Options     map[string]string `json:"options,omitempty"`
}

// SubmitResult identifies the accepted remote job.
type SubmitResult struct {
	ExternalID string `json:"job_id"`
}

// PollResult is one progress observation of a remote job. Frames carries
// base64-encoded PNG data once the job is done.
type PollResult struct {
	Progress int      `json:"progress"`
	Status   string   `json:"status"`
	Frames   []string `json:"frames,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Done reports whether the remote job finished successfully.
func (p PollResult) Done() bool {
	return p.Progress >= 100 || strings.EqualFold(p.Status, "completed")
}

// Failed reports whether the remote job reached a terminal failure state.
// A failed remote job will never report completion, so polling it further
// only burns the execution deadline.
func (p PollResult) Failed() bool {
	switch strings.ToLower(p.Status) {
	case "failed", "error", "cancelled", "canceled":
		return true
	}
	return false
}

// Client is the submit/poll contract of the external generation service.
type Client interface {
	Submit(ctx context.Context, req GenerateRequest) (SubmitResult, error)
	Poll(ctx context.Context, externalID string) (PollResult, error)
}

// Options controls how the HTTP client is configured.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// HTTPClient talks to the generation service over HTTP.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewHTTPClient(opts Options) *HTTPClient {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.pixellab.ai/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPClient{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
	}
}

func (c *HTTPClient) Submit(ctx context.Context, req GenerateRequest) (SubmitResult, error) {
	var out SubmitResult
	if err := c.do(ctx, http.MethodPost, "/generations", req, &out); err != nil {
		return SubmitResult{}, err
	}
	if strings.TrimSpace(out.ExternalID) == "" {
		return SubmitResult{}, &domain.ExternalServiceError{
			Subtype: domain.ExternalServer,
			Err:     errors.New("submit response missing job id"),
		}
	}
	return out, nil
}

func (c *HTTPClient) Poll(ctx context.Context, externalID string) (PollResult, error) {
	var out PollResult
	if err := c.do(ctx, http.MethodGet, "/generations/"+externalID, nil, &out); err != nil {
		return PollResult{}, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	if c.token == "" {
		return &domain.ExternalServiceError{
			Subtype: domain.ExternalAuth,
			Err:     errors.New("generation api key is missing"),
		}
	}

	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		subtype := domain.ExternalNetwork
		if errors.Is(err, context.DeadlineExceeded) {
			subtype = domain.ExternalTimeout
		}
		return &domain.ExternalServiceError{Subtype: subtype, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := apiErr.Message
		if msg == "" {
			msg = resp.Status
		}
		return &domain.ExternalServiceError{
			Subtype: classifyStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Err:     errors.New(msg),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.ExternalServiceError{Subtype: domain.ExternalServer, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func classifyStatus(status int) domain.ExternalServiceSubtype {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return domain.ExternalAuth
	case status == http.StatusTooManyRequests:
		return domain.ExternalRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return domain.ExternalTimeout
	case status >= 500:
		return domain.ExternalServer
	case status >= 400:
		return domain.ExternalValidation
	}
	return domain.ExternalServer
}

// MapPrompt translates the normalized prompt into the provider request.
func MapPrompt(p domain.StructuredPrompt) GenerateRequest {
	return GenerateRequest{
		SpriteType:  p.Type,
		Style:       p.Style,
		Width:       p.Size.Width,
		Height:      p.Size.Height,
		Action:      p.Action,
		Description: p.Description,
		Options:     p.Options,
	}
}
