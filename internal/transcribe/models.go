package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrModelNotFound is returned when a model identifier cannot be resolved to
// a local file.
var ErrModelNotFound = errors.New("model not found")

// ModelOption describes one downloadable whisper.cpp model.
type ModelOption struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	FileName    string `json:"fileName"`
	URL         string `json:"url"`
	SizeLabel   string `json:"sizeLabel"`
	Description string `json:"description"`
	Downloaded  bool   `json:"downloaded"`
	LocalPath   string `json:"localPath,omitempty"`
}

const ggmlBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

func ggml(id, name, size, description string) ModelOption {
	file := "ggml-" + id + ".bin"
	return ModelOption{
		ID:          id,
		Name:        name,
		FileName:    file,
		URL:         ggmlBaseURL + file,
		SizeLabel:   size,
		Description: description,
	}
}

var modelCatalog = []ModelOption{
	ggml("tiny.en", "Tiny (English)", "~75 MB", "Fastest, English-only model."),
	ggml("tiny", "Tiny (Multilingual)", "~75 MB", "Fastest multilingual model."),
	ggml("base.en", "Base (English)", "~142 MB", "Balanced speed/quality, English-only."),
	ggml("base", "Base (Multilingual)", "~142 MB", "Balanced speed/quality, multilingual."),
	ggml("small.en", "Small (English)", "~466 MB", "Higher quality, English-only."),
	ggml("small", "Small (Multilingual)", "~466 MB", "Higher quality multilingual model."),
	ggml("medium.en", "Medium (English)", "~1.5 GB", "High quality, English-only."),
	ggml("medium", "Medium (Multilingual)", "~1.5 GB", "High quality multilingual model."),
	ggml("large-v2", "Large v2", "~2.9 GB", "Very high quality multilingual model."),
	ggml("large-v3", "Large v3", "~2.9 GB", "Latest large multilingual model."),
	ggml("large-v3-turbo", "Large v3 Turbo", "~1.6 GB", "Faster large-v3 variant."),
}

// NormalizeModelName reduces hub-style names to catalog ids, so
// "mlx-community/whisper-base-mlx", "openai/whisper-base" and
// "ggml-base.bin" all become "base".
func NormalizeModelName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndex(n, "/"); i >= 0 {
		n = n[i+1:]
	}
	n = strings.TrimSuffix(n, ".bin")
	n = strings.TrimPrefix(n, "ggml-")
	n = strings.TrimPrefix(n, "whisper-")
	n = strings.TrimSuffix(n, "-mlx")
	return n
}

// LookupModel finds the catalog entry for name after normalization.
func LookupModel(name string) (ModelOption, bool) {
	id := NormalizeModelName(name)
	for _, m := range modelCatalog {
		if m.ID == id {
			return m, true
		}
	}
	return ModelOption{}, false
}

// Models returns the catalog with download state checked against modelsDir.
func Models(modelsDir string) []ModelOption {
	models := make([]ModelOption, len(modelCatalog))
	copy(models, modelCatalog)
	if strings.TrimSpace(modelsDir) == "" {
		return models
	}
	for i := range models {
		candidate := filepath.Join(modelsDir, models[i].FileName)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		models[i].Downloaded = true
		models[i].LocalPath = candidate
	}
	return models
}

// ResolveModel turns a configured model identifier into a model file.
// name may be a file, a directory holding .bin/.gguf files, or a catalog
// name looked up in modelsDir.
func ResolveModel(name, modelsDir string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("%w: model name is required", ErrModelNotFound)
	}

	if info, err := os.Stat(trimmed); err == nil {
		if !info.IsDir() {
			return trimmed, nil
		}
		return firstModelFile(trimmed)
	}

	model, ok := LookupModel(trimmed)
	if !ok {
		return "", fmt.Errorf("%w: %s is neither a file nor a known model", ErrModelNotFound, trimmed)
	}
	candidate := filepath.Join(modelsDir, model.FileName)
	info, err := os.Stat(candidate)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %s is not downloaded to %s", ErrModelNotFound, model.ID, modelsDir)
	}
	return candidate, nil
}

func firstModelFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("cannot read model directory: %s", dir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".bin" || ext == ".gguf" {
			names = append(names, entry.Name())
		}
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w: no .bin or .gguf model files found in %s", ErrModelNotFound, dir)
	}

	sort.Strings(names)
	return filepath.Join(dir, names[0]), nil
}

// DownloadModel fetches the catalog model id into dir and returns its path.
func DownloadModel(ctx context.Context, id, dir string) (string, error) {
	model, ok := LookupModel(id)
	if !ok {
		return "", fmt.Errorf("unknown model id: %s", id)
	}
	target := filepath.Join(dir, model.FileName)
	if err := downloadURLToFile(ctx, http.DefaultClient, target, model.URL); err != nil {
		return "", fmt.Errorf("download model %s: %w", model.Name, err)
	}
	return target, nil
}

// downloadURLToFile streams sourceURL into a temp file next to
// destinationPath and renames it into place on success.
func downloadURLToFile(ctx context.Context, client *http.Client, destinationPath, sourceURL string) error {
	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return fmt.Errorf("prepare destination directory: %w", err)
	}

	tmpPath := destinationPath + ".download"
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale temp file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "audiodesk")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP status: %s", resp.Status)
	}

	file, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}

	_, copyErr := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if copyErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write destination file: %w", copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close destination file: %w", closeErr)
	}

	if err := os.Rename(tmpPath, destinationPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("move downloaded file into place: %w", err)
	}
	return nil
}
