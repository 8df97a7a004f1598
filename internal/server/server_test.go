package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/runpod"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeHandler struct {
	result   job.Result
	jobs     []job.Job
	mu       sync.Mutex
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (h *fakeHandler) Handle(_ context.Context, j job.Job) (job.Result, error) {
	n := h.inFlight.Add(1)
	if n > h.maxSeen.Load() {
		h.maxSeen.Store(n)
	}
	time.Sleep(5 * time.Millisecond)
	h.inFlight.Add(-1)

	h.mu.Lock()
	h.jobs = append(h.jobs, j)
	h.mu.Unlock()
	return h.result, nil
}

func newServer(h JobHandler) *gin.Engine {
	return New(h, slog.New(slog.NewTextHandler(io.Discard, nil))).Router()
}

func TestHealth(t *testing.T) {
	w := httptest.NewRecorder()
	newServer(&fakeHandler{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestRunSync_Success(t *testing.T) {
	h := &fakeHandler{result: job.Result{Image: "aGk=", Seed: "3", Width: 4, Height: 5}}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/runsync", strings.NewReader(`{"input":{"prompt":"a cat"}}`))
	newServer(h).ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp runpod.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, runpod.StatusCompleted, resp.Status)
	assert.NotEmpty(t, resp.ID)
	assert.JSONEq(t, `{"image":"aGk=","seed":3,"width":4,"height":5}`, string(resp.Output))

	require.Len(t, h.jobs, 1)
	assert.Equal(t, resp.ID, h.jobs[0].ID)
	assert.JSONEq(t, `{"prompt":"a cat"}`, string(h.jobs[0].Input))
}

func TestRunSync_KeepsID(t *testing.T) {
	h := &fakeHandler{result: job.Result{Image: "aGk="}}
	w := httptest.NewRecorder()
	newServer(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runsync", strings.NewReader(`{"id":"mine","input":{}}`)))

	var resp runpod.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "mine", resp.ID)
}

func TestRunSync_Failure(t *testing.T) {
	h := &fakeHandler{result: job.Failure(errors.New("CUDA out of memory"))}
	w := httptest.NewRecorder()
	newServer(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runsync", strings.NewReader(`{"input":{}}`)))
	require.Equal(t, http.StatusOK, w.Code)

	var resp runpod.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, runpod.StatusFailed, resp.Status)
	assert.Equal(t, "CUDA out of memory", resp.Error)
	assert.JSONEq(t, `{"error":"CUDA out of memory"}`, string(resp.Output))
}

func TestRunSync_BadBody(t *testing.T) {
	h := &fakeHandler{}
	w := httptest.NewRecorder()
	newServer(h).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runsync", strings.NewReader(`{not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.jobs)
}

func TestRunSync_OneJobAtATime(t *testing.T) {
	h := &fakeHandler{result: job.Result{Image: "aGk="}}
	router := newServer(h)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/runsync", strings.NewReader(`{"input":{}}`)))
		}()
	}
	wg.Wait()

	assert.Len(t, h.jobs, 8)
	assert.Equal(t, int32(1), h.maxSeen.Load())
}
