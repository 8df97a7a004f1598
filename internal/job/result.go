package job

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
)

// Result is either a success carrying a base64 PNG or a failure carrying
// only an error message. The two shapes never mix on the wire.
type Result struct {
	Image  string
	Seed   Seed
	Width  int
	Height int
	Error  string
}

type successWire struct {
	Image  string `json:"image"`
	Seed   Seed   `json:"seed"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type failureWire struct {
	Error string `json:"error"`
}

func Failure(err error) Result {
	msg := "unknown error"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	return Result{Error: msg}
}

func (r Result) Failed() bool {
	return r.Error != ""
}

func (r Result) MarshalJSON() ([]byte, error) {
	if r.Failed() {
		return json.Marshal(failureWire{Error: r.Error})
	}
	return json.Marshal(successWire{Image: r.Image, Seed: r.Seed, Width: r.Width, Height: r.Height})
}

func (r *Result) UnmarshalJSON(data []byte) error {
	var wire struct {
		successWire
		failureWire
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*r = Result{
		Image:  wire.Image,
		Seed:   wire.Seed,
		Width:  wire.Width,
		Height: wire.Height,
		Error:  wire.Error,
	}
	return nil
}

// PNG decodes the base64 image payload.
func (r Result) PNG() ([]byte, error) {
	if r.Failed() {
		return nil, fmt.Errorf("result carries an error: %s", r.Error)
	}
	data, err := base64.StdEncoding.DecodeString(r.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return data, nil
}

// Encode turns the final image into a success result. Width and height are
// read from the image itself, so they reflect any upscaling.
func Encode(img image.Image, seed Seed) (Result, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, fmt.Errorf("failed to encode png: %w", err)
	}
	b := img.Bounds()
	return Result{
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Seed:   seed,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}
