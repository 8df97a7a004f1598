package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/log"
)

const (
	DefaultBaseURL = "https://api.runpod.ai"

	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Response is the envelope returned by /runsync.
type Response struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	DelayTime     int64           `json:"delayTime,omitempty"`
	ExecutionTime int64           `json:"executionTime,omitempty"`
}

// Result decodes Output as an image job result.
func (r Response) Result() (job.Result, error) {
	if len(r.Output) == 0 {
		if r.Error != "" {
			return job.Result{Error: r.Error}, nil
		}
		return job.Result{}, fmt.Errorf("response %s has no output (status %s)", r.ID, r.Status)
	}
	var res job.Result
	if err := json.Unmarshal(r.Output, &res); err != nil {
		return job.Result{}, fmt.Errorf("failed to decode output: %w", err)
	}
	return res, nil
}

// StatusError is returned for any non-200 answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("runpod returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	HTTP     *http.Client
	BaseURL  string
	Endpoint string
	APIKey   string
}

func (c *Client) RunSync(ctx context.Context, input any) (Response, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	url := fmt.Sprintf("%s/v2/%s/runsync", base, c.Endpoint)

	log := log.FromContextOrDiscard(ctx).WithGroup("runpod").With("endpoint", c.Endpoint)
	log.Info("submitting job")

	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return Response{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	req.Header.Add("Authorization", "Bearer "+c.APIKey)
	req.Header.Add("Content-Type", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("failed to decode response: %w", err)
	}
	log.Info("job finished", "id", out.ID, "status", out.Status)
	return out, nil
}
