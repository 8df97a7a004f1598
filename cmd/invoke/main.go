package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dmorgan81/fluxbot/internal/comfy"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/dmorgan81/fluxbot/internal/runpod"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	placeholderEndpoint = "your-endpoint-id"
	placeholderKey      = "your-runpod-api-key"
)

type env struct {
	Endpoint string `envconfig:"RUNPOD_ENDPOINT_ID" default:"your-endpoint-id"`
	APIKey   string `envconfig:"RUNPOD_API_KEY" default:"your-runpod-api-key"`
	BaseURL  string `envconfig:"RUNPOD_BASE_URL" default:"https://api.runpod.ai"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	useComfy := flag.Bool("comfy", false, "submit the ComfyUI FLUX + LoRA workflow instead of a plain job")
	prompt := flag.String("prompt", "", "prompt override")
	lora := flag.String("lora", "", "LoRA file to apply (comfy only)")
	strength := flag.Float64("lora-strength", 0.8, "LoRA strength (comfy only)")
	out := flag.String("out", "output.png", "where to save the image")
	flag.Parse()

	var e env
	if err := envconfig.Process("", &e); err != nil {
		return err
	}
	if e.Endpoint == placeholderEndpoint || e.APIKey == placeholderKey {
		return errors.New("RUNPOD_ENDPOINT_ID and RUNPOD_API_KEY must be set, either in .env or the environment")
	}

	ctx := log.NewContext(context.Background(), log.NewWithFormat(os.Stderr, "console", "info"))
	client := &runpod.Client{BaseURL: e.BaseURL, Endpoint: e.Endpoint, APIKey: e.APIKey}

	if *useComfy {
		return invokeComfy(ctx, client, *prompt, *lora, *strength, *out)
	}
	return invokeJob(ctx, client, *prompt, *out)
}

func invokeJob(ctx context.Context, client *runpod.Client, prompt, out string) error {
	if prompt == "" {
		prompt = "a majestic mountain landscape at sunset, highly detailed, professional photography"
	}
	input := map[string]any{
		"prompt":          prompt,
		"negative_prompt": "low quality, blurry, oversaturated",
		"width":           1024,
		"height":          1024,
		"steps":           28,
		"guidance_scale":  3.5,
		"upscale":         true,
		"upscale_factor":  2,
	}

	fmt.Println("submitting generation request...")
	resp, err := client.RunSync(ctx, input)
	if err != nil {
		return describe(err)
	}

	res, err := resp.Result()
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("job failed: %s", res.Error)
	}
	data, err := res.PNG()
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}

	fmt.Println("saved", out)
	fmt.Printf("size: %d x %d\n", res.Width, res.Height)
	fmt.Printf("seed: %s\n", res.Seed)
	return nil
}

func invokeComfy(ctx context.Context, client *runpod.Client, prompt, lora string, strength float64, out string) error {
	if prompt == "" {
		prompt = "beautiful anime character"
	}
	workflow := comfy.FluxLoRA().WithPrompt(prompt)
	if lora != "" {
		workflow = workflow.WithLoRA(lora, strength)
	}

	resp, err := client.RunSync(ctx, map[string]any{"workflow": workflow})
	if err != nil {
		return describe(err)
	}

	var output comfy.Output
	if len(resp.Output) > 0 {
		if err := json.Unmarshal(resp.Output, &output); err != nil {
			return fmt.Errorf("unexpected output: %s", string(resp.Output))
		}
	}
	data, err := output.FirstImage()
	if err != nil {
		return fmt.Errorf("%w: status %s %s", err, resp.Status, resp.Error)
	}
	if err := os.WriteFile(out, data, 0644); err != nil {
		return err
	}
	fmt.Println("saved", out)
	return nil
}

func describe(err error) error {
	var statusErr *runpod.StatusError
	if errors.As(err, &statusErr) {
		return fmt.Errorf("request failed\nstatus code: %d\nresponse: %s", statusErr.StatusCode, statusErr.Body)
	}
	return err
}
