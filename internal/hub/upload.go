package hub

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/dmorgan81/fluxbot/internal/log"
)

const (
	uploadModeLFS = "lfs"
	lfsMediaType  = "application/vnd.git-lfs+json"
	sampleSize    = 512
)

// RepoURL is the browsable page of repo.
func (c *Client) RepoURL(repo string) string {
	return c.base() + "/" + repo
}

// ResolveURL is the direct download link of path on the main branch.
func (c *Client) ResolveURL(repo, path string) string {
	return c.RepoURL(repo) + "/resolve/main/" + path
}

// CreateRepo creates a public model repo. An existing repo is not an error.
func (c *Client) CreateRepo(ctx context.Context, repo string) error {
	namespace, name, ok := strings.Cut(repo, "/")
	if !ok || namespace == "" || name == "" {
		return fmt.Errorf("invalid repo id %q: expected <namespace>/<name>", repo)
	}

	body, err := json.Marshal(map[string]any{
		"name":         name,
		"organization": namespace,
		"type":         "model",
		"private":      false,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/api/repos/create", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, true)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusConflict {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create repo %s: %w", repo, err)
	}
	resp.Body.Close()

	log.FromContextOrDiscard(ctx).WithGroup("hub").Info("created repo", "repo", repo)
	return nil
}

// UploadFile commits the local file to repo at path on main and returns its
// hub URL.
func (c *Client) UploadFile(ctx context.Context, repo, path, local string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	return c.upload(ctx, repo, path, f, info.Size())
}

func (c *Client) UploadBytes(ctx context.Context, repo, path string, data []byte) (string, error) {
	return c.upload(ctx, repo, path, bytes.NewReader(data), int64(len(data)))
}

type preuploadFile struct {
	Path       string `json:"path"`
	Sample     string `json:"sample,omitempty"`
	Size       int64  `json:"size,omitempty"`
	UploadMode string `json:"uploadMode,omitempty"`
}

type preuploadBody struct {
	Files []preuploadFile `json:"files"`
}

type lfsAction struct {
	Href   string            `json:"href"`
	Header map[string]string `json:"header"`
}

type lfsObject struct {
	OID     string               `json:"oid"`
	Size    int64                `json:"size"`
	Actions map[string]lfsAction `json:"actions,omitempty"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type lfsBatch struct {
	Operation string      `json:"operation,omitempty"`
	Transfers []string    `json:"transfers,omitempty"`
	HashAlgo  string      `json:"hash_algo,omitempty"`
	Objects   []lfsObject `json:"objects"`
}

type commitLine struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// upload asks the hub whether path must go through LFS, pushes the blob
// there if so, and then commits. Small text files are inlined in the commit.
func (c *Client) upload(ctx context.Context, repo, path string, src io.ReadSeeker, size int64) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("hub").With("repo", repo, "path", path, "size", size)

	sample := make([]byte, sampleSize)
	n, err := io.ReadFull(src, sample)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	sample = sample[:n]

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	h := sha256.New()
	if _, err := io.Copy(h, src); err != nil {
		return "", err
	}
	oid := hex.EncodeToString(h.Sum(nil))
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	mode, err := c.preupload(ctx, repo, path, sample, size)
	if err != nil {
		return "", err
	}

	var op commitLine
	if mode == uploadModeLFS {
		if err := c.pushLFS(ctx, repo, oid, size, src); err != nil {
			return "", err
		}
		op = commitLine{Key: "lfsFile", Value: map[string]any{"path": path, "algo": "sha256", "oid": oid}}
	} else {
		data, err := io.ReadAll(src)
		if err != nil {
			return "", err
		}
		op = commitLine{Key: "file", Value: map[string]any{
			"path":     path,
			"content":  base64.StdEncoding.EncodeToString(data),
			"encoding": "base64",
		}}
	}

	if err := c.commit(ctx, repo, "Upload "+path, op); err != nil {
		return "", err
	}
	log.Info("uploaded file", "mode", mode)
	return c.RepoURL(repo) + "/blob/main/" + path, nil
}

func (c *Client) preupload(ctx context.Context, repo, path string, sample []byte, size int64) (string, error) {
	var out preuploadBody
	err := c.postJSON(ctx, fmt.Sprintf("%s/api/models/%s/preupload/main", c.base(), repo), "application/json", preuploadBody{
		Files: []preuploadFile{{Path: path, Sample: base64.StdEncoding.EncodeToString(sample), Size: size}},
	}, &out)
	if err != nil {
		return "", fmt.Errorf("failed to check upload mode for %s: %w", path, err)
	}
	for _, f := range out.Files {
		if f.Path == path {
			return f.UploadMode, nil
		}
	}
	return "regular", nil
}

func (c *Client) pushLFS(ctx context.Context, repo, oid string, size int64, src io.Reader) error {
	var batch lfsBatch
	err := c.postJSON(ctx, fmt.Sprintf("%s/%s.git/info/lfs/objects/batch", c.base(), repo), lfsMediaType, lfsBatch{
		Operation: "upload",
		Transfers: []string{"basic"},
		HashAlgo:  "sha256",
		Objects:   []lfsObject{{OID: oid, Size: size}},
	}, &batch)
	if err != nil {
		return fmt.Errorf("lfs batch failed: %w", err)
	}
	if len(batch.Objects) == 0 {
		return fmt.Errorf("lfs batch returned no objects for %s", oid)
	}

	obj := batch.Objects[0]
	if obj.Error != nil {
		return fmt.Errorf("lfs batch rejected %s: %d %s", oid, obj.Error.Code, obj.Error.Message)
	}
	upload, ok := obj.Actions["upload"]
	if !ok {
		// already stored
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, upload.Href, src)
	if err != nil {
		return err
	}
	req.ContentLength = size
	for k, v := range upload.Header {
		req.Header.Set(k, v)
	}
	resp, err := c.do(req, false)
	if err != nil {
		return fmt.Errorf("lfs upload failed: %w", err)
	}
	resp.Body.Close()

	if verify, ok := obj.Actions["verify"]; ok {
		body, err := json.Marshal(lfsObject{OID: oid, Size: size})
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, verify.Href, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", lfsMediaType)
		for k, v := range verify.Header {
			req.Header.Set(k, v)
		}
		resp, err := c.do(req, true)
		if err != nil {
			return fmt.Errorf("lfs verify failed: %w", err)
		}
		resp.Body.Close()
	}
	return nil
}

func (c *Client) commit(ctx context.Context, repo, summary string, ops ...commitLine) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	lines := append([]commitLine{{Key: "header", Value: map[string]string{"summary": summary, "description": ""}}}, ops...)
	for _, line := range lines {
		if err := enc.Encode(line); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/models/%s/commit/main", c.base(), repo), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-ndjson")
	resp, err := c.do(req, true)
	if err != nil {
		return fmt.Errorf("failed to commit to %s: %w", repo, err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) postJSON(ctx context.Context, u, contentType string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	resp, err := c.do(req, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}
