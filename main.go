package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/dmorgan81/fluxbot/internal/config"
	"github.com/dmorgan81/fluxbot/internal/handler"
	"github.com/dmorgan81/fluxbot/internal/inject"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/dmorgan81/fluxbot/internal/lora"
	"github.com/samber/do"
)

func main() {
	ctx := log.NewContext(context.Background(), log.New(os.Stderr))
	injector := inject.Setup(ctx)
	settings := do.MustInvoke[*config.Settings](injector)

	log.FromContextOrDiscard(ctx).Info("starting worker", "mode", settings.Mode, "backend", settings.Backend)
	lambda.StartWithOptions(entrypoint(injector, settings.Mode), lambda.WithContext(ctx), lambda.WithEnableSIGTERM(func() {
		_ = injector.Shutdown()
	}))
}

// entrypoint loads the handler for mode. Generation loads the model here,
// before the first job.
func entrypoint(i *do.Injector, mode string) any {
	if mode == config.ModeTrain {
		return do.MustInvoke[*lora.Handler](i).Handle
	}
	return do.MustInvoke[*handler.Handler](i).Handle
}
