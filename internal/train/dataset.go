package train

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

var imageExts = []string{".png", ".jpg", ".jpeg"}

// PrepareDataset zips every image in dir together with a caption file per
// image. Images without an entry in captions get "a photo of <trigger>".
// It returns the number of images written. Nothing is left at out when it
// fails.
func PrepareDataset(dir, out, trigger string, captions map[string]string) (n int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read dataset dir: %w", err)
	}

	f, err := os.Create(out)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(out)
		}
	}()

	zw := zip.NewWriter(f)
	count := 0
	for _, e := range entries {
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if e.IsDir() || !slices.Contains(imageExts, ext) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return 0, err
		}
		if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
			return 0, fmt.Errorf("invalid image %s: %w", name, err)
		}

		if err := writeEntry(zw, name, data); err != nil {
			return 0, err
		}
		caption, ok := captions[name]
		if !ok {
			caption = "a photo of " + trigger
		}
		if err := writeEntry(zw, strings.TrimSuffix(name, filepath.Ext(name))+".txt", []byte(caption)); err != nil {
			return 0, err
		}
		count++
	}

	if err := zw.Close(); err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, fmt.Errorf("no images found in %s", dir)
	}
	return count, f.Close()
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
