package runpod

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSync(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/abc123/runsync", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var body struct {
			Input map[string]any `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "a cat", body.Input["prompt"])

		_, _ = w.Write([]byte(`{"id":"job-1","status":"COMPLETED","output":{"image":"aGk=","seed":7,"width":2048,"height":2048}}`))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL + "/", Endpoint: "abc123", APIKey: "key"}
	resp, err := c.RunSync(context.Background(), map[string]any{"prompt": "a cat"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", resp.ID)
	assert.Equal(t, StatusCompleted, resp.Status)

	res, err := resp.Result()
	require.NoError(t, err)
	assert.Equal(t, job.Seed("7"), res.Seed)
	assert.Equal(t, 2048, res.Width)

	data, err := res.PNG()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)
}

func TestRunSync_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL, Endpoint: "abc", APIKey: "bad"}
	_, err := c.RunSync(context.Background(), map[string]any{})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "unauthorized")
}

func TestResponse_Result(t *testing.T) {
	res, err := Response{ID: "x", Status: StatusFailed, Error: "boom"}.Result()
	require.NoError(t, err)
	assert.Equal(t, "boom", res.Error)

	res, err = Response{Output: json.RawMessage(`{"error":"CUDA out of memory"}`)}.Result()
	require.NoError(t, err)
	assert.True(t, res.Failed())

	_, err = Response{ID: "x", Status: "IN_PROGRESS"}.Result()
	assert.Error(t, err)
}
