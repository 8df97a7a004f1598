package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/dmorgan81/fluxbot/internal/store"
	"github.com/dmorgan81/fluxbot/internal/train"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/replicate/replicate-go"
)

type env struct {
	Token    string `envconfig:"REPLICATE_API_TOKEN" required:"true"`
	Username string `envconfig:"REPLICATE_USERNAME" default:"user"`
}

var samplePrompts = []string{
	"TRIGGER as a wizard, fantasy art, magical",
	"TRIGGER in cyberpunk style, neon lights",
	"TRIGGER portrait, oil painting style",
	"TRIGGER wearing kimono in japanese garden",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	images := flag.String("images", "my_images", "folder of training images")
	captionsPath := flag.String("captions", "", "optional JSON file mapping image file names to captions")
	dataset := flag.String("dataset", "dataset.zip", "where to write the dataset archive")
	model := flag.String("model", "my-character-flux-lora", "name of the trained model")
	trigger := flag.String("trigger", "TOK", "LoRA trigger word")
	steps := flag.Int("steps", 1000, "training steps")
	lr := flag.Float64("lr", 4e-4, "learning rate")
	host := flag.String("host", "fileio", "dataset host: fileio or s3")
	bucket := flag.String("bucket", "", "bucket for the s3 host")
	interval := flag.Duration("interval", 30*time.Second, "training poll interval")
	flag.Parse()

	var e env
	if err := envconfig.Process("", &e); err != nil {
		return err
	}
	ctx := log.NewContext(context.Background(), log.NewWithFormat(os.Stderr, "console", "info"))

	captions := map[string]string{}
	if *captionsPath != "" {
		data, err := os.ReadFile(*captionsPath)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &captions); err != nil {
			return fmt.Errorf("invalid captions file: %w", err)
		}
	}

	n, err := train.PrepareDataset(*images, *dataset, *trigger, captions)
	if err != nil {
		return err
	}
	fmt.Printf("dataset ready: %s (%d images)\n", *dataset, n)

	datasetHost, err := newHost(ctx, *host, *bucket)
	if err != nil {
		return err
	}
	url, err := datasetHost.Host(ctx, *dataset)
	if err != nil {
		return fmt.Errorf("failed to host dataset: %w", err)
	}

	r8, err := replicate.NewClient(replicate.WithToken(e.Token))
	if err != nil {
		return err
	}
	trainer := &train.Trainer{Trainings: r8, Runner: r8, Owner: e.Username}

	training, err := trainer.Start(ctx, train.TrainingRequest{
		DatasetURL:   url,
		ModelName:    *model,
		TriggerWord:  *trigger,
		Steps:        *steps,
		LearningRate: *lr,
	})
	if err != nil {
		return err
	}
	fmt.Printf("training %s started (%s)\n", training.ID, training.Status)

	version, err := trainer.Wait(ctx, training.ID, *interval)
	if err != nil {
		return err
	}
	fmt.Println("trained model:", version)

	for i, p := range samplePrompts {
		prompt := strings.ReplaceAll(p, "TRIGGER", *trigger)
		urls, err := trainer.Sample(ctx, version, prompt, 1)
		if err != nil {
			return err
		}
		for j, u := range urls {
			name := fmt.Sprintf("output_%d_%d.png", i, j)
			if err := download(ctx, u, name); err != nil {
				return err
			}
			fmt.Println("saved", name)
		}
	}
	return nil
}

func newHost(ctx context.Context, kind, bucket string) (train.DatasetHost, error) {
	switch kind {
	case "fileio":
		return &train.FileIOHost{}, nil
	case "s3":
		if bucket == "" {
			return nil, fmt.Errorf("-bucket is required for the s3 host")
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(cfg)
		return &train.S3Host{
			Uploader:  &store.S3Uploader{Client: client, Bucket: bucket},
			Presigner: s3.NewPresignClient(client),
			Bucket:    bucket,
			Prefix:    "datasets/",
			Expires:   24 * time.Hour,
		}, nil
	default:
		return nil, fmt.Errorf("unknown dataset host %q", kind)
	}
}

func download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
