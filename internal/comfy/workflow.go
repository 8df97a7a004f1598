// Package comfy builds ComfyUI workflow graphs for a FLUX checkpoint with an
// optional LoRA.
package comfy

import (
	"encoding/base64"
	"fmt"
	"maps"
)

const (
	samplerNode  = "3"
	positiveNode = "6"
	loraNode     = "10"
)

type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Workflow maps node ids to nodes. Links are [node id, output index] pairs.
type Workflow map[string]Node

func link(node string, output int) []any {
	return []any{node, output}
}

// FluxLoRA returns a fresh copy of the base graph. Node 10 is the LoRA
// loader; it is only reachable once WithLoRA rewires the sampler to it.
func FluxLoRA() Workflow {
	return Workflow{
		samplerNode: {ClassType: "KSampler", Inputs: map[string]any{
			"seed":         12345,
			"steps":        20,
			"cfg":          7,
			"sampler_name": "dpmpp_2m",
			"scheduler":    "karras",
			"denoise":      1,
			"model":        link("4", 0),
			"positive":     link("6", 0),
			"negative":     link("7", 0),
			"latent_image": link("5", 0),
		}},
		"4": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{
			"ckpt_name": "flux1-dev.safetensors",
		}},
		"5": {ClassType: "EmptyLatentImage", Inputs: map[string]any{
			"width":      1024,
			"height":     1024,
			"batch_size": 1,
		}},
		positiveNode: {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": "masterpiece, anime style character WITH_LORA",
			"clip": link("4", 1),
		}},
		"7": {ClassType: "CLIPTextEncode", Inputs: map[string]any{
			"text": "bad quality, blurry",
			"clip": link("4", 1),
		}},
		"8": {ClassType: "VAEDecode", Inputs: map[string]any{
			"samples": link("3", 0),
			"vae":     link("4", 2),
		}},
		"9": {ClassType: "SaveImage", Inputs: map[string]any{
			"images":          link("8", 0),
			"filename_prefix": "flux_lora",
		}},
		loraNode: {ClassType: "LoraLoader", Inputs: map[string]any{
			"lora_name":      "my_anime_lora.safetensors",
			"strength_model": 0.8,
			"strength_clip":  0.8,
			"model":          link("4", 0),
			"clip":           link("4", 1),
		}},
	}
}

// Clone copies the graph deeply enough that edits to the copy never reach w.
func (w Workflow) Clone() Workflow {
	out := make(Workflow, len(w))
	for id, n := range w {
		inputs := maps.Clone(n.Inputs)
		for k, v := range inputs {
			if l, ok := v.([]any); ok {
				inputs[k] = append([]any(nil), l...)
			}
		}
		out[id] = Node{ClassType: n.ClassType, Inputs: inputs}
	}
	return out
}

func (w Workflow) WithPrompt(text string) Workflow {
	out := w.Clone()
	out[positiveNode].Inputs["text"] = text
	return out
}

// WithLoRA sets the LoRA file and strength and routes the sampler's model
// input through the loader.
func (w Workflow) WithLoRA(name string, strength float64) Workflow {
	out := w.Clone()
	lora := out[loraNode].Inputs
	lora["lora_name"] = name
	lora["strength_model"] = strength
	lora["strength_clip"] = strength
	out[samplerNode].Inputs["model"] = link(loraNode, 0)
	return out
}

// Output is what the ComfyUI worker returns.
type Output struct {
	Images []string `json:"images"`
}

func (o Output) FirstImage() ([]byte, error) {
	if len(o.Images) == 0 {
		return nil, fmt.Errorf("output has no images")
	}
	data, err := base64.StdEncoding.DecodeString(o.Images[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return data, nil
}
