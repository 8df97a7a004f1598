package lora

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/samber/lo"
)

// TrainConfig is one training run.
type TrainConfig struct {
	ModelPath     string
	DatasetConfig string
	OutputDir     string
	OutputName    string
	MaxSteps      int
	LearningRate  float64
	Rank          int
	Alpha         int
}

// Runner trains a LoRA and returns the path of the weights it wrote.
type Runner interface {
	Train(ctx context.Context, cfg TrainConfig) (string, error)
}

// Kohya launches the sd-scripts network trainer.
type Kohya struct {
	Launcher string
	Script   string
	Dir      string
	Stdout   io.Writer
	Stderr   io.Writer
}

func (k *Kohya) Args(cfg TrainConfig) []string {
	return []string{
		"launch", "--num_cpu_threads_per_process=2", k.Script,
		"--pretrained_model_name_or_path=" + cfg.ModelPath,
		"--dataset_config=" + cfg.DatasetConfig,
		"--output_dir=" + cfg.OutputDir,
		"--output_name=" + cfg.OutputName,
		"--save_model_as=safetensors",
		"--prior_loss_weight=1.0",
		"--max_train_steps=" + strconv.Itoa(cfg.MaxSteps),
		"--learning_rate=" + strconv.FormatFloat(cfg.LearningRate, 'g', -1, 64),
		"--optimizer_type=AdamW8bit",
		"--lr_scheduler=cosine_with_restarts",
		"--lr_warmup_steps=100",
		"--train_batch_size=1",
		"--gradient_checkpointing",
		"--gradient_accumulation_steps=1",
		"--mixed_precision=fp16",
		"--save_precision=fp16",
		"--network_module=networks.lora",
		"--network_rank=" + strconv.Itoa(cfg.Rank),
		"--network_alpha=" + strconv.Itoa(cfg.Alpha),
		"--network_train_unet_only",
		"--cache_latents",
		"--cache_latents_to_disk",
		"--persistent_data_loader_workers",
	}
}

func (k *Kohya) Train(ctx context.Context, cfg TrainConfig) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Kohya").With("output_dir", cfg.OutputDir, "output_name", cfg.OutputName)

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, lo.Ternary(k.Launcher != "", k.Launcher, "accelerate"), k.Args(cfg)...)
	cmd.Dir = k.Dir
	cmd.Stdout = lo.Ternary[io.Writer](k.Stdout != nil, k.Stdout, os.Stdout)
	cmd.Stderr = lo.Ternary[io.Writer](k.Stderr != nil, k.Stderr, os.Stderr)

	log.Info("starting trainer", "steps", cfg.MaxSteps, "rank", cfg.Rank)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("trainer failed: %w", err)
	}

	out, err := Newest(cfg.OutputDir, "*.safetensors")
	if err != nil {
		return "", err
	}
	log.Info("trainer finished", "weights", out)
	return out, nil
}

// Newest returns the most recently modified file in dir matching pattern.
func Newest(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", err
	}

	var newest string
	var newestInfo os.FileInfo
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if newestInfo == nil || info.ModTime().After(newestInfo.ModTime()) {
			newest, newestInfo = m, info
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no %s found in %s", pattern, dir)
	}
	return newest, nil
}
