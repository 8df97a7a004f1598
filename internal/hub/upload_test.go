package hub

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepoHost struct {
	t        *testing.T
	url      string
	mode     string
	stored   bool
	mu       sync.Mutex
	created  []map[string]any
	exists   bool
	puts     [][]byte
	putAuth  []string
	verified []lfsObject
	commits  [][]commitLine
}

func (h *fakeRepoHost) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch r.URL.Path {
	case "/api/repos/create":
		var body map[string]any
		assert.NoError(h.t, json.NewDecoder(r.Body).Decode(&body))
		h.created = append(h.created, body)
		if h.exists {
			http.Error(w, "You already created this model repo", http.StatusConflict)
		}
	case "/api/models/alice/TOK-flux-lora/preupload/main":
		var body preuploadBody
		assert.NoError(h.t, json.NewDecoder(r.Body).Decode(&body))
		for i := range body.Files {
			body.Files[i].UploadMode = h.mode
		}
		_ = json.NewEncoder(w).Encode(body)
	case "/alice/TOK-flux-lora.git/info/lfs/objects/batch":
		assert.Equal(h.t, lfsMediaType, r.Header.Get("Content-Type"))
		var batch lfsBatch
		assert.NoError(h.t, json.NewDecoder(r.Body).Decode(&batch))
		obj := batch.Objects[0]
		if !h.stored {
			obj.Actions = map[string]lfsAction{
				"upload": {Href: h.url + "/lfs/upload", Header: map[string]string{"X-Amz-Test": "signed"}},
				"verify": {Href: h.url + "/lfs/verify"},
			}
		}
		w.Header().Set("Content-Type", lfsMediaType)
		_ = json.NewEncoder(w).Encode(lfsBatch{Objects: []lfsObject{obj}})
	case "/lfs/upload":
		assert.Equal(h.t, http.MethodPut, r.Method)
		assert.Equal(h.t, "signed", r.Header.Get("X-Amz-Test"))
		data, _ := io.ReadAll(r.Body)
		h.puts = append(h.puts, data)
		h.putAuth = append(h.putAuth, r.Header.Get("Authorization"))
	case "/lfs/verify":
		var obj lfsObject
		assert.NoError(h.t, json.NewDecoder(r.Body).Decode(&obj))
		h.verified = append(h.verified, obj)
	case "/api/models/alice/TOK-flux-lora/commit/main":
		assert.Equal(h.t, "application/x-ndjson", r.Header.Get("Content-Type"))
		var lines []commitLine
		sc := bufio.NewScanner(r.Body)
		sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
		for sc.Scan() {
			var line commitLine
			assert.NoError(h.t, json.Unmarshal(sc.Bytes(), &line))
			lines = append(lines, line)
		}
		h.commits = append(h.commits, lines)
		_, _ = w.Write([]byte(`{"commitUrl":"x","commitOid":"abc"}`))
	default:
		http.NotFound(w, r)
	}
}

func newRepoHost(t *testing.T, mode string) (*fakeRepoHost, *Client) {
	h := &fakeRepoHost{t: t, mode: mode}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	h.url = srv.URL
	return h, &Client{HTTP: srv.Client(), BaseURL: srv.URL, Token: "hf_write"}
}

func TestCreateRepo(t *testing.T) {
	h, c := newRepoHost(t, "regular")
	require.NoError(t, c.CreateRepo(context.Background(), "alice/TOK-flux-lora"))
	require.Len(t, h.created, 1)
	assert.Equal(t, "TOK-flux-lora", h.created[0]["name"])
	assert.Equal(t, "alice", h.created[0]["organization"])
	assert.Equal(t, false, h.created[0]["private"])

	h.exists = true
	assert.NoError(t, c.CreateRepo(context.Background(), "alice/TOK-flux-lora"))

	assert.ErrorContains(t, c.CreateRepo(context.Background(), "no-namespace"), "invalid repo id")
}

func TestCreateRepo_Unauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := &Client{HTTP: srv.Client(), BaseURL: srv.URL}
	err := c.CreateRepo(context.Background(), "alice/TOK-flux-lora")
	require.Error(t, err)

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "Invalid credentials", statusErr.Body)
}

func TestUploadBytes_Regular(t *testing.T) {
	h, c := newRepoHost(t, "regular")

	u, err := c.UploadBytes(context.Background(), "alice/TOK-flux-lora", "README.md", []byte("# TOK"))
	require.NoError(t, err)
	assert.Equal(t, h.url+"/alice/TOK-flux-lora/blob/main/README.md", u)
	assert.Empty(t, h.puts)

	require.Len(t, h.commits, 1)
	lines := h.commits[0]
	require.Len(t, lines, 2)
	assert.Equal(t, "header", lines[0].Key)
	assert.Equal(t, "file", lines[1].Key)

	value := lines[1].Value.(map[string]any)
	assert.Equal(t, "README.md", value["path"])
	assert.Equal(t, "base64", value["encoding"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("# TOK")), value["content"])
}

func TestUploadFile_LFS(t *testing.T) {
	h, c := newRepoHost(t, uploadModeLFS)

	weights := make([]byte, 4096)
	for i := range weights {
		weights[i] = byte(i)
	}
	path := filepath.Join(t.TempDir(), "TOK_lora.safetensors")
	require.NoError(t, os.WriteFile(path, weights, 0600))
	sum := sha256.Sum256(weights)
	oid := hex.EncodeToString(sum[:])

	_, err := c.UploadFile(context.Background(), "alice/TOK-flux-lora", "TOK_lora.safetensors", path)
	require.NoError(t, err)

	require.Len(t, h.puts, 1)
	assert.Equal(t, weights, h.puts[0])
	assert.Equal(t, []string{""}, h.putAuth, "bearer token sent to storage")
	require.Len(t, h.verified, 1)
	assert.Equal(t, oid, h.verified[0].OID)
	assert.Equal(t, int64(len(weights)), h.verified[0].Size)

	lines := h.commits[0]
	require.Len(t, lines, 2)
	assert.Equal(t, "lfsFile", lines[1].Key)
	assert.Equal(t, map[string]any{"path": "TOK_lora.safetensors", "algo": "sha256", "oid": oid}, lines[1].Value)
}

func TestUploadFile_LFSAlreadyStored(t *testing.T) {
	h, c := newRepoHost(t, uploadModeLFS)
	h.stored = true

	_, err := c.UploadBytes(context.Background(), "alice/TOK-flux-lora", "TOK_lora.safetensors", []byte("weights"))
	require.NoError(t, err)
	assert.Empty(t, h.puts)
	assert.Empty(t, h.verified)
	assert.Len(t, h.commits, 1)
}

func TestRepoURLs(t *testing.T) {
	c := &Client{}
	assert.Equal(t, "https://huggingface.co/alice/TOK-flux-lora", c.RepoURL("alice/TOK-flux-lora"))
	assert.Equal(t, "https://huggingface.co/alice/TOK-flux-lora/resolve/main/TOK_lora.safetensors", c.ResolveURL("alice/TOK-flux-lora", "TOK_lora.safetensors"))
}
