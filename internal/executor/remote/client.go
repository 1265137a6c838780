// Package remote runs jobs on an HTTP inference sidecar. Each call is a POST
// whose response streams newline-delimited JSON events: zero or more progress
// events followed by exactly one result or error event.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/jobkeeper/pkg/models"
)

// Sentinel errors for sidecar failures.
var (
	ErrUnreachable     = errors.New("inference sidecar unreachable")
	ErrTimeout         = errors.New("inference sidecar timeout")
	ErrRejected        = errors.New("inference sidecar rejected request")
	ErrInvalidResponse = errors.New("inference sidecar returned invalid response")
)

const (
	eventProgress = "progress"
	eventResult   = "result"
	eventError    = "error"
)

// event is one line of the sidecar's response stream.
type event struct {
	Event    string          `json:"event"`
	Fraction float64         `json:"fraction,omitempty"`
	Stage    string          `json:"stage,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Client implements models.AnalyzeExecutor and models.LrcExecutor against the
// sidecar's HTTP API.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a sidecar client. timeout bounds a whole job, including
// the streamed response.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Analyze(ctx context.Context, req *models.AnalyzeRequest, progress models.ProgressReporter) (*models.AnalyzeResult, error) {
	var out models.AnalyzeResult
	if err := c.run(ctx, "/v1/analyze", req, progress, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Align(ctx context.Context, req *models.LrcRequest, progress models.ProgressReporter) (*models.LrcResult, error) {
	var out models.LrcResult
	if err := c.run(ctx, "/v1/lrc", req, progress, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready checks that the sidecar is up.
func (c *Client) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: sidecar not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *Client) run(ctx context.Context, path string, body any, progress models.ProgressReporter, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var ev event
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: stream ended without a result", ErrInvalidResponse)
			}
			if isTransportError(err) {
				return classifyError(err)
			}
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}

		switch ev.Event {
		case eventProgress:
			if progress != nil {
				progress.Report(ev.Fraction, ev.Stage)
			}
		case eventResult:
			if len(ev.Result) == 0 {
				return fmt.Errorf("%w: empty result", ErrInvalidResponse)
			}
			if err := json.Unmarshal(ev.Result, out); err != nil {
				return fmt.Errorf("%w: decoding result: %v", ErrInvalidResponse, err)
			}
			return nil
		case eventError:
			if ev.Message == "" {
				return errors.New("inference failed")
			}
			// The sidecar's message becomes the job's error verbatim.
			return errors.New(ev.Message)
		default:
			return fmt.Errorf("%w: unknown event %q", ErrInvalidResponse, ev.Event)
		}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

var (
	_ models.AnalyzeExecutor = (*Client)(nil)
	_ models.LrcExecutor     = (*Client)(nil)
)
