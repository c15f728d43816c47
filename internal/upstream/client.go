package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/typegym/ai_gateway/internal/httputil"
)

const maxResponseSizeBytes = 64 * 1024 * 1024 // audio responses run large

// CallError is a failed upstream call, preserving the signals the dispatcher
// classifies on: the HTTP status, the upstream status token and message, and
// whether the failure happened below HTTP (network, timeout).
type CallError struct {
	StatusCode int
	Status     string // upstream status token, e.g. RESOURCE_EXHAUSTED
	Message    string
	Transport  bool
	Err        error
}

func (e *CallError) Error() string {
	if e.Transport {
		return fmt.Sprintf("upstream transport error: %v", e.Err)
	}
	return fmt.Sprintf("upstream error %d (%s): %s", e.StatusCode, e.Status, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Caller executes one upstream attempt with one credential.
type Caller interface {
	Generate(ctx context.Context, secret string, req *GenerateRequest) (*Response, error)
}

// Client invokes the generative API over REST. The base URL is an explicit
// parameter so regional relay deployments rewrite the endpoint without
// touching global network state.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, headerTimeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    httputil.NewClient(&httputil.ClientConfig{HeaderTimeout: headerTimeout}),
		logger:  logger,
	}
}

// generateURL constructs {base_url}/v1beta/models/{model}:generateContent.
func (c *Client) generateURL(model string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, model)
}

// apiErrorBody is the upstream error envelope.
type apiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Generate performs one attempt with the given credential. On failure it
// returns a *CallError; it never retries or rotates — that is the
// dispatcher's job.
func (c *Client) Generate(ctx context.Context, secret string, req *GenerateRequest) (*Response, error) {
	payload, err := json.Marshal(req.Body)
	if err != nil {
		return nil, &CallError{StatusCode: http.StatusBadRequest, Message: "failed to encode request body", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.generateURL(req.Model), bytes.NewReader(payload))
	if err != nil {
		return nil, &CallError{Transport: true, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", secret)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &CallError{Transport: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return nil, &CallError{Transport: true, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorBody
		_ = json.Unmarshal(body, &apiErr)
		msg := apiErr.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		c.logger.Debug("upstream call rejected",
			"model", req.Model,
			"status_code", resp.StatusCode,
			"status", apiErr.Error.Status,
		)
		return nil, &CallError{
			StatusCode: resp.StatusCode,
			Status:     apiErr.Error.Status,
			Message:    msg,
		}
	}

	return normalize(body, req)
}

// normalize extracts the text, structured JSON or audio payload from the
// upstream response into the stable shape the relay returns.
func normalize(body []byte, req *GenerateRequest) (*Response, error) {
	var result generateResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &CallError{
			StatusCode: http.StatusBadGateway,
			Message:    "failed to parse upstream response",
			Err:        err,
		}
	}

	out := &Response{}
	for _, candidate := range result.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				out.Text += part.Text
			}
			if part.InlineData != nil && out.Audio == nil {
				out.Audio = &Audio{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				}
			}
		}
	}

	if req.WantAudio && out.Audio == nil {
		return nil, &CallError{
			StatusCode: http.StatusBadGateway,
			Message:    "upstream returned no audio payload",
		}
	}

	if req.WantJSON {
		trimmed := strings.TrimSpace(out.Text)
		if !json.Valid([]byte(trimmed)) {
			return nil, &CallError{
				StatusCode: http.StatusBadGateway,
				Message:    "upstream returned invalid structured output",
			}
		}
		out.JSON = json.RawMessage(trimmed)
		out.Text = ""
	}

	if out.Text == "" && out.JSON == nil && out.Audio == nil {
		return nil, &CallError{
			StatusCode: http.StatusBadGateway,
			Message:    "upstream returned an empty response",
		}
	}

	return out, nil
}
