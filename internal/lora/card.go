package lora

import (
	"bytes"
	"text/template"
)

var cardTemplate = template.Must(template.New("card").Parse(`---
tags:
- flux
- lora
- diffusers
- {{.TriggerWord}}
---

# {{.TriggerWord}} FLUX LoRA

## Trigger word
~~~
{{.TriggerWord}}
~~~

## Usage
~~~python
from diffusers import FluxPipeline
import torch

pipe = FluxPipeline.from_pretrained(
    "black-forest-labs/FLUX.1-dev",
    torch_dtype=torch.float16
).to("cuda")

pipe.load_lora_weights("{{.Repo}}")

prompt = "a photo of {{.TriggerWord}} person"
image = pipe(prompt).images[0]
~~~

## Training details
- Base model: {{.ModelName}}
- Steps: {{.Steps}}
- Learning rate: {{.LearningRate}}
- Rank: {{.LoRARank}}
`))

// ModelCard renders the README published next to the weights.
func ModelCard(repo string, in Input) ([]byte, error) {
	var buf bytes.Buffer
	err := cardTemplate.Execute(&buf, struct {
		Input
		Repo string
	}{in, repo})
	return buf.Bytes(), err
}
