package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"github.com/dmorgan81/fluxbot/internal/job"
)

var (
	ErrModelNotFound = errors.New("model weights not found")
	ErrBackend       = errors.New("generation backend unavailable")
)

// Generator produces exactly one image per call. Implementations do not
// retry.
type Generator interface {
	Generate(context.Context, job.Params) (image.Image, error)
}

// decodeResponse reads an image body, turning any non-200 status into an
// error that carries the response text.
func decodeResponse(resp *http.Response, prefix string) (image.Image, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %d - %s", prefix, resp.StatusCode, string(body))
	}
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
