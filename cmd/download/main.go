package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmorgan81/fluxbot/internal/hub"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/kelseyhightower/envconfig"
)

type env struct {
	HFToken   string `envconfig:"HF_TOKEN"`
	ModelDir  string `envconfig:"MODEL_DIR" default:"/app/models"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return err
	}
	dir := flag.String("dir", e.ModelDir, "directory to store models in")
	revision := flag.String("revision", "main", "revision to download")
	flag.Parse()

	if e.HFToken == "" {
		return fmt.Errorf("HF_TOKEN is not set; pass it at build time with --build-arg HF_TOKEN=<token>")
	}

	ctx := log.NewContext(context.Background(), log.NewWithFormat(os.Stderr, e.LogFormat, "info"))
	client := &hub.Client{Token: e.HFToken}

	if err := client.Snapshot(ctx, "black-forest-labs/FLUX.1-dev", *revision, filepath.Join(*dir, "flux-dev")); err != nil {
		return fmt.Errorf("failed to download FLUX.1-dev: %w", err)
	}
	for _, name := range []string{"clip_l.safetensors", "t5xxl_fp8_e4m3fn.safetensors"} {
		if err := client.File(ctx, "comfyanonymous/flux_text_encoders", *revision, name, filepath.Join(*dir, "encoders")); err != nil {
			return fmt.Errorf("failed to download %s: %w", name, err)
		}
	}

	fmt.Println("all models downloaded to", *dir)
	return nil
}
