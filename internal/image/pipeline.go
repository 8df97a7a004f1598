package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/log"
)

type PipelineOptions struct {
	ModelPath string
	URL       string
	Client    *http.Client
}

// Pipeline talks to the diffusion runtime running next to the worker. It is
// loaded once and shared by every job.
type Pipeline struct {
	client    *http.Client
	url       string
	modelPath string
}

type pipelineRequest struct {
	ModelPath         string   `json:"model_path"`
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	NumInferenceSteps int      `json:"num_inference_steps"`
	GuidanceScale     float64  `json:"guidance_scale"`
	Seed              job.Seed `json:"seed"`
}

// LoadPipeline checks the weights directory and the runtime health endpoint.
// Any error here means the worker cannot serve.
func LoadPipeline(ctx context.Context, opts PipelineOptions) (*Pipeline, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Pipeline").With("model_path", opts.ModelPath, "url", opts.URL)
	log.Info("loading pipeline")

	index := filepath.Join(opts.ModelPath, "model_index.json")
	if _, err := os.Stat(index); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelNotFound, opts.ModelPath, err)
	}

	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	url := strings.TrimRight(opts.URL, "/")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBackend, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: health check returned %s", ErrBackend, resp.Status)
	}

	log.Info("pipeline loaded")
	return &Pipeline{client: client, url: url, modelPath: opts.ModelPath}, nil
}

func (p *Pipeline) Generate(ctx context.Context, params job.Params) (image.Image, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Pipeline").With("params", params)
	log.Info("generating image via local pipeline")

	body, err := json.Marshal(pipelineRequest{
		ModelPath:         p.modelPath,
		Prompt:            params.Prompt,
		NegativePrompt:    params.NegativePrompt,
		Width:             params.Width,
		Height:            params.Height,
		NumInferenceSteps: params.Steps,
		GuidanceScale:     params.GuidanceScale,
		Seed:              params.Seed,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("Accept", "image/png")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	img, err := decodeResponse(resp, "pipeline error")
	if err != nil {
		return nil, err
	}
	log.Info("received image from local pipeline", "bounds", img.Bounds().String())
	return img, nil
}
