package train

import (
	"context"
	"fmt"
	"time"

	"github.com/dmorgan81/fluxbot/internal/image"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/replicate/replicate-go"
)

const (
	TrainerOwner   = "ostris"
	TrainerModel   = "flux-dev-lora-trainer"
	TrainerVersion = "4ffd32160efd92e956d39c5338a9b8fbafca58e03f791f6d8011f3e20e8ea6fa"
)

// TrainingAPI is the part of *replicate.Client used for trainings.
type TrainingAPI interface {
	CreateTraining(ctx context.Context, modelOwner, modelName, version, destination string, input replicate.TrainingInput, webhook *replicate.Webhook) (*replicate.Training, error)
	GetTraining(ctx context.Context, trainingID string) (*replicate.Training, error)
}

type TrainingRequest struct {
	DatasetURL   string
	ModelName    string
	TriggerWord  string
	Steps        int
	LearningRate float64
}

type Trainer struct {
	Trainings TrainingAPI
	Runner    image.Runner
	// Owner is the account the trained model is pushed to.
	Owner string
}

func (t *Trainer) Start(ctx context.Context, req TrainingRequest) (*replicate.Training, error) {
	destination := t.Owner + "/" + req.ModelName
	log := log.FromContextOrDiscard(ctx).WithGroup("Trainer").With("destination", destination)
	log.Info("starting lora training", "steps", req.Steps, "trigger_word", req.TriggerWord)

	training, err := t.Trainings.CreateTraining(ctx, TrainerOwner, TrainerModel, TrainerVersion, destination, replicate.TrainingInput{
		"input_images":       req.DatasetURL,
		"trigger_word":       req.TriggerWord,
		"steps":              req.Steps,
		"learning_rate":      req.LearningRate,
		"rank":               32,
		"optimizer":          "adamw8bit",
		"batch_size":         1,
		"resolution":         "512,768,1024",
		"autocaption":        true,
		"autocaption_prefix": req.TriggerWord,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create training: %w", err)
	}

	log.Info("training created", "id", training.ID, "status", training.Status)
	return training, nil
}

// Wait polls the training until it reaches a terminal state and returns the
// trained model version.
func (t *Trainer) Wait(ctx context.Context, id string, interval time.Duration) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Trainer").With("id", id)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		training, err := t.Trainings.GetTraining(ctx, id)
		if err != nil {
			return "", fmt.Errorf("failed to get training %s: %w", id, err)
		}
		log.Info("training status", "status", training.Status)

		switch training.Status {
		case replicate.Succeeded:
			return trainedVersion(training)
		case replicate.Failed, replicate.Canceled:
			return "", fmt.Errorf("training %s %s: %v", id, training.Status, training.Error)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func trainedVersion(training *replicate.Training) (string, error) {
	out, ok := training.Output.(map[string]any)
	if !ok {
		return "", fmt.Errorf("training %s has unexpected output %T", training.ID, training.Output)
	}
	version, ok := out["version"].(string)
	if !ok || version == "" {
		return "", fmt.Errorf("training %s output has no version", training.ID)
	}
	return version, nil
}

// Sample generates count images with the trained version and returns their
// URLs.
func (t *Trainer) Sample(ctx context.Context, version, prompt string, count int) ([]string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Trainer").With("version", version, "prompt", prompt)
	log.Info("sampling trained model")

	out, err := t.Runner.Run(ctx, version, replicate.PredictionInput{
		"prompt":              prompt,
		"num_outputs":         count,
		"aspect_ratio":        "1:1",
		"output_format":       "png",
		"guidance":            3.5,
		"num_inference_steps": 28,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", version, err)
	}

	urls := image.OutputURLs(out)
	if len(urls) == 0 {
		return nil, fmt.Errorf("sample returned no images")
	}
	return urls, nil
}
