package train

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/dmorgan81/fluxbot/internal/store"
)

// DatasetHost makes a local dataset archive reachable by URL.
type DatasetHost interface {
	Host(ctx context.Context, path string) (string, error)
}

type presignAPI interface {
	PresignGetObject(context.Context, *s3.GetObjectInput, ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Host uploads the archive and hands out a presigned GET URL.
type S3Host struct {
	Uploader  store.Uploader
	Presigner presignAPI
	Bucket    string
	Prefix    string
	Expires   time.Duration
}

func (h *S3Host) Host(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	key := h.Prefix + filepath.Base(path)
	if err := h.Uploader.Upload(ctx, store.UploadParams{Name: key, Data: data, ContentType: "application/zip"}); err != nil {
		return "", err
	}

	req, err := h.Presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(h.Expires))
	if err != nil {
		return "", fmt.Errorf("failed to presign s3://%s/%s: %w", h.Bucket, key, err)
	}
	return req.URL, nil
}

const FileIOURL = "https://file.io"

// FileIOHost posts the archive to a file.io compatible service.
type FileIOHost struct {
	HTTP *http.Client
	URL  string
}

func (h *FileIOHost) Host(ctx context.Context, path string) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("file.io").With("path", path)
	log.Info("uploading dataset")

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	url := h.URL
	if url == "" {
		url = FileIOURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	client := h.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload failed: %d - %s", resp.StatusCode, string(data))
	}

	var out struct {
		Link string `json:"link"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if out.Link == "" {
		return "", fmt.Errorf("upload response has no link: %s", string(data))
	}
	log.Info("dataset uploaded", "link", out.Link)
	return out.Link, nil
}
