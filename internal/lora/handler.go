package lora

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/dmorgan81/fluxbot/internal/config"
	"github.com/dmorgan81/fluxbot/internal/hub"
	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/samber/do"
)

// Publisher stores trained weights. *hub.Client satisfies it.
type Publisher interface {
	CreateRepo(ctx context.Context, repo string) error
	UploadFile(ctx context.Context, repo, path, local string) (string, error)
	UploadBytes(ctx context.Context, repo, path string, data []byte) (string, error)
	RepoURL(repo string) string
	ResolveURL(repo, path string) string
}

type Handler struct {
	client    *http.Client
	runner    Runner
	publisher Publisher
	username  string
	workDir   string
}

func NewHandler(i *do.Injector) (*Handler, error) {
	settings := do.MustInvoke[*config.Settings](i)
	return &Handler{
		client:    do.MustInvoke[*http.Client](i),
		runner:    do.MustInvoke[Runner](i),
		publisher: do.MustInvoke[*hub.Client](i),
		username:  settings.HFUsername,
		workDir:   settings.TrainWorkDir,
	}, nil
}

// New builds a handler without an injector. An empty workDir means the
// system temp dir.
func New(client *http.Client, runner Runner, publisher Publisher, username, workDir string) *Handler {
	return &Handler{client: client, runner: runner, publisher: publisher, username: username, workDir: workDir}
}

// RepoID is where the weights for trigger are published.
func RepoID(username, trigger string) string {
	return username + "/" + trigger + "-flux-lora"
}

// Handle never returns an error; failures, panics included, come back as a
// result with status "error".
func (h *Handler) Handle(ctx context.Context, j job.Job) (res Result, err error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("LoRA").With("job_id", j.ID)
	log.Info("handling training job")

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered from panic", "panic", r, "stack", string(debug.Stack()))
			res, err = Failure(fmt.Errorf("internal error: %v", r)), nil
		}
	}()

	res, err = h.run(ctx, log, j)
	if err != nil {
		log.Warn("training job failed", "error", err)
		return Failure(err), nil
	}
	log.Info("training job succeeded", "lora_url", res.LoRAURL)
	return res, nil
}

func (h *Handler) run(ctx context.Context, log *slog.Logger, j job.Job) (Result, error) {
	in, err := ParseInput(j.Input)
	if err != nil {
		return Result{}, err
	}
	log = log.With("input", in)

	work, err := os.MkdirTemp(h.workDir, "lora-*")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(work)

	archive := filepath.Join(work, "dataset.zip")
	n, err := Download(ctx, h.client, in.DatasetURL, archive)
	if err != nil {
		return Result{}, err
	}
	log.Info("downloaded dataset", "bytes", n)

	imageDir := filepath.Join(work, "dataset")
	files, err := Extract(archive, imageDir)
	if err != nil {
		return Result{}, err
	}
	if files == 0 {
		return Result{}, fmt.Errorf("dataset archive is empty")
	}
	log.Info("extracted dataset", "files", files)

	datasetConfig := filepath.Join(work, "dataset_config.json")
	if err := WriteDatasetConfig(datasetConfig, NewDatasetConfig(imageDir, in.TriggerWord)); err != nil {
		return Result{}, err
	}

	weights, err := h.runner.Train(ctx, TrainConfig{
		ModelPath:     in.ModelName,
		DatasetConfig: datasetConfig,
		OutputDir:     filepath.Join(work, "output"),
		OutputName:    in.TriggerWord + "_lora",
		MaxSteps:      in.Steps,
		LearningRate:  in.LearningRate,
		Rank:          in.LoRARank,
		Alpha:         in.LoRARank,
	})
	if err != nil {
		return Result{}, err
	}
	log.Info("trained lora", "weights", weights)

	repo := RepoID(h.username, in.TriggerWord)
	name := in.TriggerWord + "_lora.safetensors"
	if err := h.publisher.CreateRepo(ctx, repo); err != nil {
		return Result{}, err
	}
	if _, err := h.publisher.UploadFile(ctx, repo, name, weights); err != nil {
		return Result{}, fmt.Errorf("failed to upload weights: %w", err)
	}
	card, err := ModelCard(repo, in)
	if err != nil {
		return Result{}, err
	}
	if _, err := h.publisher.UploadBytes(ctx, repo, "README.md", card); err != nil {
		return Result{}, fmt.Errorf("failed to upload model card: %w", err)
	}
	log.Info("published lora", "repo", repo)

	return Result{
		Status:        StatusSuccess,
		LoRAURL:       h.publisher.RepoURL(repo),
		TriggerWord:   in.TriggerWord,
		TrainingSteps: in.Steps,
		DownloadURL:   h.publisher.ResolveURL(repo, name),
	}, nil
}
