package image

import (
	"context"
	"fmt"
	"image"
	"net/http"

	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/replicate/replicate-go"
)

// Runner is the part of *replicate.Client used for predictions.
type Runner interface {
	Run(ctx context.Context, identifier string, input replicate.PredictionInput, webhook *replicate.Webhook) (replicate.PredictionOutput, error)
}

type Replicate struct {
	Runner Runner
	Client *http.Client
	Model  string
}

func (g *Replicate) Generate(ctx context.Context, params job.Params) (image.Image, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Replicate").With("model", g.Model, "params", params)
	log.Info("generating image via replicate")

	out, err := g.Runner.Run(ctx, g.Model, replicate.PredictionInput{
		"prompt":              params.Prompt,
		"width":               params.Width,
		"height":              params.Height,
		"num_inference_steps": params.Steps,
		"seed":                params.Seed,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate run failed: %w", err)
	}

	url, err := FirstOutputURL(out)
	if err != nil {
		return nil, err
	}
	log.Info("downloading replicate output", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, "download error")
}

// FirstOutputURL handles models that return a single URL as well as those
// returning a list.
func FirstOutputURL(out replicate.PredictionOutput) (string, error) {
	urls := OutputURLs(out)
	if len(urls) == 0 {
		return "", fmt.Errorf("replicate returned no output")
	}
	return urls[0], nil
}

func OutputURLs(out replicate.PredictionOutput) []string {
	switch v := out.(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		urls := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				urls = append(urls, s)
			}
		}
		return urls
	default:
		return nil
	}
}
