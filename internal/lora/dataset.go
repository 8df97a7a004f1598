package lora

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

// DatasetConfig is the kohya sd-scripts dataset description.
type DatasetConfig struct {
	General  GeneralConfig `json:"general"`
	Datasets []Dataset     `json:"datasets"`
}

type GeneralConfig struct {
	EnableBucket bool   `json:"enable_bucket"`
	Resolution   string `json:"resolution"`
	BatchSize    int    `json:"batch_size"`
}

type Dataset struct {
	Subsets []Subset `json:"subsets"`
}

type Subset struct {
	ImageDir    string `json:"image_dir"`
	ClassTokens string `json:"class_tokens"`
	NumRepeats  int    `json:"num_repeats"`
}

func NewDatasetConfig(imageDir, trigger string) DatasetConfig {
	return DatasetConfig{
		General: GeneralConfig{EnableBucket: true, Resolution: "1024,1024", BatchSize: 1},
		Datasets: []Dataset{{
			Subsets: []Subset{{ImageDir: imageDir, ClassTokens: trigger, NumRepeats: 10}},
		}},
	}
}

func WriteDatasetConfig(path string, cfg DatasetConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Download fetches url into dest.
func Download(ctx context.Context, client *http.Client, url, dest string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := lo.Ternary(client != nil, client, http.DefaultClient).Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download dataset: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return 0, fmt.Errorf("failed to download dataset: %d - %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	f, err := os.Create(dest)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("failed to download dataset: %w", err)
	}
	return n, f.Close()
}

// Extract unpacks the zip at src into dir. Entries that would land outside
// dir are rejected.
func Extract(src, dir string) (int, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("invalid dataset archive: %w", err)
	}
	defer r.Close()

	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, err
	}
	count := 0
	for _, f := range r.File {
		dest := filepath.Join(dir, filepath.FromSlash(f.Name))
		rel, err := filepath.Rel(dir, dest)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			return 0, fmt.Errorf("refusing to extract %s outside %s", f.Name, dir)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0755); err != nil {
				return 0, err
			}
			continue
		}
		if err := extractFile(f, dest); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", f.Name, err)
	}
	return out.Close()
}
