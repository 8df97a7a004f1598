package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const DefaultBaseURL = "https://huggingface.co"

// Client downloads and publishes model repositories on the Hugging Face
// hub.
type Client struct {
	HTTP    *http.Client
	BaseURL string
	Token   string
	// Concurrency bounds parallel downloads in Snapshot. Zero means 4.
	Concurrency int
}

type sibling struct {
	RFilename string `json:"rfilename"`
}

type modelInfo struct {
	Siblings []sibling `json:"siblings"`
}

// Files lists the repository contents at revision.
func (c *Client) Files(ctx context.Context, repo, revision string) ([]string, error) {
	u := fmt.Sprintf("%s/api/models/%s/revision/%s", c.base(), repo, url.PathEscape(revision))
	resp, err := c.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var info modelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode model info for %s: %w", repo, err)
	}
	return lo.Map(info.Siblings, func(s sibling, _ int) string { return s.RFilename }), nil
}

// Snapshot mirrors every file of repo into dir.
func (c *Client) Snapshot(ctx context.Context, repo, revision, dir string) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("hub").With("repo", repo, "revision", revision, "dir", dir)
	log.Info("downloading snapshot")

	files, err := c.Files(ctx, repo, revision)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(lo.Ternary(c.Concurrency > 0, c.Concurrency, 4))
	for _, name := range files {
		g.Go(func() error {
			return c.File(ctx, repo, revision, name, dir)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("snapshot complete", "files", len(files))
	return nil
}

// File downloads one file to dir/filename. The file only appears once it
// is complete.
func (c *Client) File(ctx context.Context, repo, revision, filename, dir string) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("hub").With("repo", repo, "file", filename)

	dest := filepath.Join(dir, filepath.FromSlash(filename))
	rel, err := filepath.Rel(dir, dest)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return fmt.Errorf("refusing to write %s outside %s", filename, dir)
	}

	u := fmt.Sprintf("%s/%s/resolve/%s/%s", c.base(), repo, url.PathEscape(revision), filename)
	resp, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to download %s: %w", filename, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return err
	}

	log.Info("downloaded", "bytes", n)
	return nil
}

func (c *Client) base() string {
	return lo.Ternary(c.BaseURL != "", strings.TrimRight(c.BaseURL, "/"), DefaultBaseURL)
}

func (c *Client) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req, true)
}

// do sends req, adding the bearer token when auth is set. Any status
// outside 2xx is an error carrying the start of the body.
func (c *Client) do(req *http.Request, auth bool) (*http.Response, error) {
	if auth && c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := lo.Ternary(c.HTTP != nil, c.HTTP, http.DefaultClient)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, &StatusError{
			Method:     req.Method,
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}
	return resp, nil
}

type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d - %s", e.Method, e.URL, e.StatusCode, e.Body)
}
