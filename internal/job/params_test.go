package job

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedResolver(seed int64) *Resolver {
	r := NewResolver(DefaultDefaults())
	r.Rand = func() int64 { return seed }
	return r
}

func TestResolve_Defaults(t *testing.T) {
	p, err := fixedResolver(42).Resolve(json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.Equal(t, Params{
		Prompt:         "beautiful landscape",
		NegativePrompt: "",
		Width:          1024,
		Height:         1024,
		Steps:          28,
		GuidanceScale:  3.5,
		Seed:           "42",
		Upscale:        false,
		UpscaleFactor:  2,
	}, p)
}

func TestResolve_NullsUseDefaults(t *testing.T) {
	p, err := fixedResolver(7).Resolve(json.RawMessage(`{"prompt":null,"steps":null,"seed":null}`))
	require.NoError(t, err)
	assert.Equal(t, "beautiful landscape", p.Prompt)
	assert.Equal(t, 28, p.Steps)
	assert.Equal(t, Seed("7"), p.Seed)
}

func TestResolve_Explicit(t *testing.T) {
	raw := `{
		"prompt": "a cat",
		"negative_prompt": "dog",
		"width": 512,
		"height": 768.0,
		"steps": 4,
		"guidance_scale": 0,
		"seed": 1234,
		"upscale": true,
		"upscale_factor": 3,
		"unknown": "ignored"
	}`
	p, err := fixedResolver(0).Resolve(json.RawMessage(raw))
	require.NoError(t, err)

	assert.Equal(t, "a cat", p.Prompt)
	assert.Equal(t, "dog", p.NegativePrompt)
	assert.Equal(t, 512, p.Width)
	assert.Equal(t, 768, p.Height)
	assert.Equal(t, 4, p.Steps)
	assert.Zero(t, p.GuidanceScale)
	assert.Equal(t, Seed("1234"), p.Seed)
	assert.True(t, p.Upscale)
	assert.Equal(t, 3, p.UpscaleFactor)
}

func TestResolve_Seeds(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Seed
	}{
		{name: "random", raw: `{"seed":-1}`, want: "99"},
		{name: "zero", raw: `{"seed":0}`, want: "0"},
		{name: "other negative is verbatim", raw: `{"seed":-5}`, want: "-5"},
		{name: "beyond 32 bits", raw: `{"seed":9007199254740993}`, want: "9007199254740993"},
		{name: "min int64", raw: `{"seed":-9223372036854775808}`, want: "-9223372036854775808"},
		{name: "beyond int64", raw: `{"seed":18446744073709551615}`, want: "18446744073709551615"},
		{name: "integral float", raw: `{"seed":7.0}`, want: "7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := fixedResolver(99).Resolve(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Seed)
		})
	}
}

func TestResolve_DefaultRandIsBounded(t *testing.T) {
	r := NewResolver(DefaultDefaults())
	for range 100 {
		p, err := r.Resolve(json.RawMessage(`{"seed":-1}`))
		require.NoError(t, err)
		n, err := p.Seed.Int64()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(0))
		assert.Less(t, n, int64(1<<32))
	}
}

func TestResolve_Errors(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		errString string
	}{
		{name: "missing", raw: ``, errString: "job input is required"},
		{name: "null", raw: `null`, errString: "job input is required"},
		{name: "not an object", raw: `[1,2]`, errString: "invalid job input"},
		{name: "string width", raw: `{"width":"big"}`, errString: "invalid width: expected an integer, got string"},
		{name: "fractional steps", raw: `{"steps":2.5}`, errString: "invalid steps"},
		{name: "seed overflow", raw: `{"seed":1e30}`, errString: "invalid seed"},
		{name: "seed past 2^64", raw: `{"seed":18446744073709551616}`, errString: "invalid seed"},
		{name: "fractional seed", raw: `{"seed":1.5}`, errString: "invalid seed"},
		{name: "bool prompt", raw: `{"prompt":true}`, errString: "invalid prompt: expected a string, got boolean"},
		{name: "string upscale", raw: `{"upscale":"yes"}`, errString: "invalid upscale"},
		{name: "zero factor", raw: `{"upscale":true,"upscale_factor":0}`, errString: "invalid upscale_factor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fixedResolver(1).Resolve(json.RawMessage(tt.raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestResolve_FactorIgnoredWithoutUpscale(t *testing.T) {
	p, err := fixedResolver(1).Resolve(json.RawMessage(`{"upscale_factor":0}`))
	require.NoError(t, err)
	assert.False(t, p.Upscale)
}

func TestResolve_CustomDefaults(t *testing.T) {
	d := DefaultDefaults()
	d.Steps = 4
	d.GuidanceScale = 0
	r := NewResolver(d)
	r.Rand = func() int64 { return 1 }

	p, err := r.Resolve(json.RawMessage(`{"prompt":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, 4, p.Steps)
	assert.Zero(t, p.GuidanceScale)
}
