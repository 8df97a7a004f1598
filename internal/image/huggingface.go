package image

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/http"
	"strings"

	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/log"
)

type HuggingFace struct {
	Client  *http.Client
	BaseURL string
	Model   string
	Token   string
}

type hfRequest struct {
	Inputs     string       `json:"inputs"`
	Parameters hfParameters `json:"parameters"`
}

type hfParameters struct {
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	NumInferenceSteps int      `json:"num_inference_steps"`
	GuidanceScale     float64  `json:"guidance_scale"`
	NegativePrompt    string   `json:"negative_prompt,omitempty"`
	Seed              job.Seed `json:"seed"`
}

func (g *HuggingFace) Generate(ctx context.Context, params job.Params) (image.Image, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("HuggingFace").With("model", g.Model, "params", params)
	log.Info("generating image via hugging face inference")

	body, err := json.Marshal(hfRequest{
		Inputs: params.Prompt,
		Parameters: hfParameters{
			Width:             params.Width,
			Height:            params.Height,
			NumInferenceSteps: params.Steps,
			GuidanceScale:     params.GuidanceScale,
			NegativePrompt:    params.NegativePrompt,
			Seed:              params.Seed,
		},
	})
	if err != nil {
		return nil, err
	}

	url := strings.TrimRight(g.BaseURL, "/") + "/" + g.Model
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	if g.Token != "" {
		req.Header.Add("Authorization", "Bearer "+g.Token)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	img, err := decodeResponse(resp, "API error")
	if err != nil {
		return nil, err
	}
	log.Info("received image via hugging face inference")
	return img, nil
}
