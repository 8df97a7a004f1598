package lora

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/dmorgan81/fluxbot/internal/job"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

var ErrMissingDataset = errors.New("dataset_url is required")

// trigger words end up in the repo id and file names
var triggerPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Input is a training request. Absent or null keys keep their defaults.
type Input struct {
	DatasetURL   string  `json:"dataset_url"`
	ModelName    string  `json:"model_name"`
	TriggerWord  string  `json:"trigger_word"`
	Steps        int     `json:"steps"`
	LearningRate float64 `json:"learning_rate"`
	LoRARank     int     `json:"lora_rank"`
}

func DefaultInput() Input {
	return Input{
		ModelName:    "black-forest-labs/FLUX.1-dev",
		TriggerWord:  "TOK",
		Steps:        1000,
		LearningRate: 4e-4,
		LoRARank:     32,
	}
}

func (in Input) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("dataset_url", in.DatasetURL),
		slog.String("model_name", in.ModelName),
		slog.String("trigger_word", in.TriggerWord),
		slog.Int("steps", in.Steps),
		slog.Float64("learning_rate", in.LearningRate),
		slog.Int("lora_rank", in.LoRARank),
	)
}

func ParseInput(raw json.RawMessage) (Input, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Input{}, job.ErrMissingInput
	}

	in := DefaultInput()
	if err := json.Unmarshal(trimmed, &in); err != nil {
		return Input{}, fmt.Errorf("invalid training input: %w", err)
	}
	switch {
	case in.DatasetURL == "":
		return Input{}, ErrMissingDataset
	case !triggerPattern.MatchString(in.TriggerWord):
		return Input{}, fmt.Errorf("invalid trigger_word %q: use letters, digits, '.', '_' or '-'", in.TriggerWord)
	case in.Steps < 1:
		return Input{}, fmt.Errorf("invalid steps: must be a positive integer, got %d", in.Steps)
	case in.LoRARank < 1:
		return Input{}, fmt.Errorf("invalid lora_rank: must be a positive integer, got %d", in.LoRARank)
	case in.LearningRate <= 0:
		return Input{}, fmt.Errorf("invalid learning_rate: must be positive, got %g", in.LearningRate)
	}
	return in, nil
}

// Result is the training outcome. On failure only Status and Error are set.
type Result struct {
	Status        string `json:"status"`
	LoRAURL       string `json:"lora_url,omitempty"`
	TriggerWord   string `json:"trigger_word,omitempty"`
	TrainingSteps int    `json:"training_steps,omitempty"`
	DownloadURL   string `json:"download_url,omitempty"`
	Error         string `json:"error,omitempty"`
}

func Failure(err error) Result {
	return Result{Status: StatusError, Error: job.Failure(err).Error}
}

func (r Result) Failed() bool {
	return r.Status != StatusSuccess
}
