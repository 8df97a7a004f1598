package inject

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/fluxbot/internal/config"
	"github.com/dmorgan81/fluxbot/internal/handler"
	"github.com/dmorgan81/fluxbot/internal/hub"
	"github.com/dmorgan81/fluxbot/internal/image"
	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/dmorgan81/fluxbot/internal/lora"
	"github.com/dmorgan81/fluxbot/internal/param"
	"github.com/dmorgan81/fluxbot/internal/store"
	"github.com/samber/do"
)

// Setup registers every provider. Nothing is built until invoked; invoking
// the handler loads the generator, so a missing model panics there.
func Setup(ctx context.Context) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})
	do.Provide[*config.Settings](injector, func(i *do.Injector) (*config.Settings, error) {
		return config.Load()
	})
	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.ProvideValue[*http.Client](injector, http.DefaultClient)

	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)
	do.ProvideNamed[string](injector, "hf_token", func(i *do.Injector) (string, error) {
		s := do.MustInvoke[*config.Settings](i)
		return param.Secret(ctx, lazyFetcher{i}, s.HFToken, s.HFTokenParam)
	})
	do.ProvideNamed[string](injector, "replicate_token", func(i *do.Injector) (string, error) {
		s := do.MustInvoke[*config.Settings](i)
		return param.Secret(ctx, lazyFetcher{i}, s.ReplicateToken, s.ReplicateTokenParam)
	})
	do.ProvideNamed[string](injector, "bucket", func(i *do.Injector) (string, error) {
		return do.MustInvoke[*config.Settings](i).ArchiveBucket, nil
	})

	do.Provide[store.Uploader](injector, store.NewS3Uploader)
	do.Provide[*job.Resolver](injector, func(i *do.Injector) (*job.Resolver, error) {
		return job.NewResolver(Defaults(do.MustInvoke[*config.Settings](i))), nil
	})
	do.Provide[image.Generator](injector, image.NewGenerator(ctx))
	do.Provide[*handler.Handler](injector, handler.NewHandler)

	do.Provide[*hub.Client](injector, func(i *do.Injector) (*hub.Client, error) {
		return &hub.Client{
			HTTP:  do.MustInvoke[*http.Client](i),
			Token: do.MustInvokeNamed[string](i, "hf_token"),
		}, nil
	})
	do.Provide[lora.Runner](injector, func(i *do.Injector) (lora.Runner, error) {
		s := do.MustInvoke[*config.Settings](i)
		return &lora.Kohya{Launcher: s.TrainLauncher, Script: s.TrainScript, Dir: s.TrainScriptDir}, nil
	})
	do.Provide[*lora.Handler](injector, lora.NewHandler)

	return injector
}

// Defaults applies the per-deployment overrides to the job defaults.
func Defaults(s *config.Settings) job.Defaults {
	d := job.DefaultDefaults()
	d.Steps = s.DefaultSteps
	d.GuidanceScale = s.DefaultGuidanceScale
	return d
}

// lazyFetcher defers building the SSM client until a parameter path is
// actually used, so plain env secrets never touch AWS.
type lazyFetcher struct {
	i *do.Injector
}

func (f lazyFetcher) Fetch(ctx context.Context, path string) (string, error) {
	fetcher, err := do.Invoke[param.Fetcher](f.i)
	if err != nil {
		return "", err
	}
	return fetcher.Fetch(ctx, path)
}
