package image

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dmorgan81/fluxbot/internal/config"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/replicate/replicate-go"
	"github.com/samber/do"
)

// NewGenerator picks the backend named by the settings. For the api backend
// Replicate wins when its token is set, Hugging Face is used otherwise.
func NewGenerator(ctx context.Context) do.Provider[Generator] {
	return func(i *do.Injector) (Generator, error) {
		settings := do.MustInvoke[*config.Settings](i)
		client := do.MustInvoke[*http.Client](i)
		log := log.FromContextOrDiscard(ctx).WithGroup("Generator").With("backend", settings.Backend)

		switch settings.Backend {
		case config.BackendPipeline:
			return LoadPipeline(ctx, PipelineOptions{
				ModelPath: settings.ModelPath,
				URL:       settings.PipelineURL,
				Client:    client,
			})
		case config.BackendAPI:
			if token := do.MustInvokeNamed[string](i, "replicate_token"); token != "" {
				r8, err := replicate.NewClient(replicate.WithToken(token))
				if err != nil {
					return nil, fmt.Errorf("failed to create replicate client: %w", err)
				}
				log.Info("using replicate", "model", settings.ReplicateModel)
				return &Replicate{Runner: r8, Client: client, Model: settings.ReplicateModel}, nil
			}
			log.Info("using hugging face inference", "model", settings.HFModel)
			return &HuggingFace{
				Client:  client,
				BaseURL: settings.HFInferenceURL,
				Model:   settings.HFModel,
				Token:   do.MustInvokeNamed[string](i, "hf_token"),
			}, nil
		default:
			return nil, fmt.Errorf("%w: unknown backend %q", ErrBackend, settings.Backend)
		}
	}
}
