package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
)

// RandomSeed asks the resolver to pick a seed.
const RandomSeed = -1

const seedSpace = 1 << 32

var ErrMissingInput = errors.New("job input is required")

// Job is the envelope handed over by the serverless runtime. Input is kept
// raw so seeds above 2^53 are not rounded through float64.
type Job struct {
	ID    string          `json:"id,omitempty"`
	Input json.RawMessage `json:"input"`
}

// Params is a fully resolved request: every field holds a concrete value.
type Params struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	Seed           Seed
	Upscale        bool
	UpscaleFactor  int
}

func (p Params) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("prompt", p.Prompt),
		slog.Int("width", p.Width),
		slog.Int("height", p.Height),
		slog.Int("steps", p.Steps),
		slog.Float64("guidance_scale", p.GuidanceScale),
		slog.String("seed", p.Seed.String()),
		slog.Bool("upscale", p.Upscale),
		slog.Int("upscale_factor", p.UpscaleFactor),
	)
}

type Defaults struct {
	Prompt         string
	NegativePrompt string
	Width          int
	Height         int
	Steps          int
	GuidanceScale  float64
	UpscaleFactor  int
}

func DefaultDefaults() Defaults {
	return Defaults{
		Prompt:         "beautiful landscape",
		NegativePrompt: "",
		Width:          1024,
		Height:         1024,
		Steps:          28,
		GuidanceScale:  3.5,
		UpscaleFactor:  2,
	}
}

type Resolver struct {
	Defaults Defaults
	// Rand returns a seed in [0, 2^32).
	Rand func() int64
}

func NewResolver(defaults Defaults) *Resolver {
	return &Resolver{
		Defaults: defaults,
		Rand:     func() int64 { return rand.Int64N(seedSpace) },
	}
}

// Resolve fills every absent or null key with its default. Width and height
// are passed through as given; the backend decides what it accepts.
func (r *Resolver) Resolve(raw json.RawMessage) (Params, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Params{}, ErrMissingInput
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return Params{}, fmt.Errorf("invalid job input: %w", err)
	}

	d := r.Defaults
	f := fieldReader{fields: fields}
	p := Params{
		Prompt:         f.string("prompt", d.Prompt),
		NegativePrompt: f.string("negative_prompt", d.NegativePrompt),
		Width:          int(f.int("width", int64(d.Width))),
		Height:         int(f.int("height", int64(d.Height))),
		Steps:          int(f.int("steps", int64(d.Steps))),
		GuidanceScale:  f.float("guidance_scale", d.GuidanceScale),
		Seed:           f.seed("seed", SeedOf(RandomSeed)),
		Upscale:        f.bool("upscale", false),
		UpscaleFactor:  int(f.int("upscale_factor", int64(d.UpscaleFactor))),
	}
	if f.err != nil {
		return Params{}, f.err
	}

	if p.Upscale && p.UpscaleFactor < 1 {
		return Params{}, fmt.Errorf("invalid upscale_factor: must be a positive integer, got %d", p.UpscaleFactor)
	}

	if p.Seed == SeedOf(RandomSeed) {
		p.Seed = SeedOf(r.Rand())
	}
	return p, nil
}

// fieldReader keeps the first type error so Resolve can read every key
// without checking after each one.
type fieldReader struct {
	fields map[string]any
	err    error
}

func (f *fieldReader) lookup(key string) (any, bool) {
	v, ok := f.fields[key]
	return v, ok && v != nil
}

func (f *fieldReader) fail(key, want string, v any) {
	if f.err == nil {
		f.err = fmt.Errorf("invalid %s: expected %s, got %s", key, want, jsonType(v))
	}
}

func (f *fieldReader) string(key, def string) string {
	v, ok := f.lookup(key)
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		f.fail(key, "a string", v)
		return def
	}
	return s
}

func (f *fieldReader) int(key string, def int64) int64 {
	v, ok := f.lookup(key)
	if !ok {
		return def
	}
	n, ok := v.(json.Number)
	if !ok {
		f.fail(key, "an integer", v)
		return def
	}
	if i, err := n.Int64(); err == nil {
		return i
	}
	// 1024.0 is still an integer.
	fl, err := n.Float64()
	if err != nil || fl != math.Trunc(fl) || fl < math.MinInt64 || fl >= math.MaxInt64 {
		if f.err == nil {
			f.err = fmt.Errorf("invalid %s: %s is not a 64-bit integer", key, n.String())
		}
		return def
	}
	return int64(fl)
}

func (f *fieldReader) seed(key string, def Seed) Seed {
	v, ok := f.lookup(key)
	if !ok {
		return def
	}
	n, ok := v.(json.Number)
	if !ok {
		f.fail(key, "an integer", v)
		return def
	}
	s, err := ParseSeed(n.String())
	if err != nil {
		if f.err == nil {
			f.err = fmt.Errorf("invalid %s: %w", key, err)
		}
		return def
	}
	return s
}

func (f *fieldReader) float(key string, def float64) float64 {
	v, ok := f.lookup(key)
	if !ok {
		return def
	}
	n, ok := v.(json.Number)
	if !ok {
		f.fail(key, "a number", v)
		return def
	}
	fl, err := n.Float64()
	if err != nil {
		if f.err == nil {
			f.err = fmt.Errorf("invalid %s: %w", key, err)
		}
		return def
	}
	return fl
}

func (f *fieldReader) bool(key string, def bool) bool {
	v, ok := f.lookup(key)
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		f.fail(key, "a boolean", v)
		return def
	}
	return b
}

func jsonType(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
