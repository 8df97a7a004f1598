package comfy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFluxLoRA_Graph(t *testing.T) {
	w := FluxLoRA()
	require.Len(t, w, 8)

	classes := map[string]string{}
	for id, n := range w {
		classes[id] = n.ClassType
	}
	assert.Equal(t, map[string]string{
		"3":  "KSampler",
		"4":  "CheckpointLoaderSimple",
		"5":  "EmptyLatentImage",
		"6":  "CLIPTextEncode",
		"7":  "CLIPTextEncode",
		"8":  "VAEDecode",
		"9":  "SaveImage",
		"10": "LoraLoader",
	}, classes)
	assert.Equal(t, []any{"4", 0}, w["3"].Inputs["model"])
}

func TestWithPrompt_DoesNotMutate(t *testing.T) {
	base := FluxLoRA()
	out := base.WithPrompt("beautiful anime character")

	assert.Equal(t, "beautiful anime character", out["6"].Inputs["text"])
	assert.Equal(t, "masterpiece, anime style character WITH_LORA", base["6"].Inputs["text"])
	assert.Equal(t, []any{"4", 0}, out["3"].Inputs["model"])
}

func TestWithLoRA(t *testing.T) {
	base := FluxLoRA()
	out := base.WithPrompt("in kimono").WithLoRA("anime_style_v2.safetensors", 0.9)

	lora := out["10"].Inputs
	assert.Equal(t, "anime_style_v2.safetensors", lora["lora_name"])
	assert.Equal(t, 0.9, lora["strength_model"])
	assert.Equal(t, 0.9, lora["strength_clip"])
	assert.Equal(t, []any{"10", 0}, out["3"].Inputs["model"])
	assert.Equal(t, "in kimono", out["6"].Inputs["text"])

	assert.Equal(t, []any{"4", 0}, base["3"].Inputs["model"])
	assert.Equal(t, "my_anime_lora.safetensors", base["10"].Inputs["lora_name"])
}

func TestClone_LinksAreIndependent(t *testing.T) {
	base := FluxLoRA()
	c := base.Clone()
	c["8"].Inputs["vae"].([]any)[0] = "99"
	assert.Equal(t, []any{"4", 2}, base["8"].Inputs["vae"])
}

func TestWorkflow_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]any{"workflow": FluxLoRA().WithLoRA("x.safetensors", 1)})
	require.NoError(t, err)

	var decoded struct {
		Workflow map[string]struct {
			ClassType string         `json:"class_type"`
			Inputs    map[string]any `json:"inputs"`
		} `json:"workflow"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "KSampler", decoded.Workflow["3"].ClassType)
	assert.Equal(t, []any{"10", float64(0)}, decoded.Workflow["3"].Inputs["model"])
}

func TestOutput_FirstImage(t *testing.T) {
	data, err := Output{Images: []string{"aGk=", "b3RoZXI="}}.FirstImage()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), data)

	_, err = Output{}.FirstImage()
	assert.Error(t, err)
}
