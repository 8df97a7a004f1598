package handler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/dmorgan81/fluxbot/internal/config"
	"github.com/dmorgan81/fluxbot/internal/image"
	"github.com/dmorgan81/fluxbot/internal/job"
	"github.com/dmorgan81/fluxbot/internal/log"
	"github.com/dmorgan81/fluxbot/internal/store"
	"github.com/samber/do"
	"github.com/samber/lo"
)

type Handler struct {
	resolver  *job.Resolver
	generator image.Generator
	archive   store.Uploader
	now       func() time.Time
}

func NewHandler(i *do.Injector) (*Handler, error) {
	settings := do.MustInvoke[*config.Settings](i)
	h := &Handler{
		resolver:  do.MustInvoke[*job.Resolver](i),
		generator: do.MustInvoke[image.Generator](i),
		now:       time.Now,
	}
	if settings.ArchiveBucket != "" {
		h.archive = do.MustInvoke[store.Uploader](i)
	}
	return h, nil
}

// New builds a handler without an injector. archive may be nil.
func New(resolver *job.Resolver, generator image.Generator, archive store.Uploader) *Handler {
	return &Handler{resolver: resolver, generator: generator, archive: archive, now: time.Now}
}

// Handle never returns an error: every failure, panics included, is folded
// into the error shape of the result.
func (h *Handler) Handle(ctx context.Context, j job.Job) (res job.Result, err error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("Handler").With("job_id", j.ID)
	log.Info("handling job")

	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered from panic", "panic", r, "stack", string(debug.Stack()))
			res, err = job.Failure(fmt.Errorf("internal error: %v", r)), nil
		}
	}()

	res = h.run(ctx, log, j)
	if res.Failed() {
		log.Warn("job failed", "error", res.Error)
	} else {
		log.Info("job succeeded", "seed", res.Seed, "width", res.Width, "height", res.Height)
	}
	return res, nil
}

func (h *Handler) run(ctx context.Context, log *slog.Logger, j job.Job) job.Result {
	params, err := h.resolver.Resolve(j.Input)
	if err != nil {
		return job.Failure(err)
	}
	log = log.With("params", params)
	log.Info("resolved parameters")

	img, err := h.generator.Generate(ctx, params)
	if err != nil {
		return job.Failure(err)
	}
	log.Info("generated image", "bounds", img.Bounds().String())

	if params.Upscale {
		img, err = image.Upscale(img, params.UpscaleFactor)
		if err != nil {
			return job.Failure(err)
		}
		log.Info("upscaled image", "factor", params.UpscaleFactor, "bounds", img.Bounds().String())
	}

	res, err := job.Encode(img, params.Seed)
	if err != nil {
		return job.Failure(err)
	}

	if h.archive != nil {
		h.store(ctx, log, j, params, res)
	}
	return res
}

// store archives a successful image. Errors are logged and never change the
// result.
func (h *Handler) store(ctx context.Context, log *slog.Logger, j job.Job, params job.Params, res job.Result) {
	data, err := res.PNG()
	if err != nil {
		log.Error("failed to decode image for archive", "error", err)
		return
	}

	id := lo.Ternary(j.ID != "", j.ID, res.Seed.String())
	name := h.now().UTC().Format("20060102") + "/" + id + ".png"
	err = h.archive.Upload(ctx, store.UploadParams{
		Name:        name,
		Data:        data,
		ContentType: "image/png",
		Metadata: map[string]string{
			"prompt": params.Prompt,
			"seed":   res.Seed.String(),
			"width":  strconv.Itoa(res.Width),
			"height": strconv.Itoa(res.Height),
		},
	})
	if err != nil {
		log.Error("failed to archive image", "name", name, "error", err)
		return
	}
	log.Info("archived image", "name", name)
}
