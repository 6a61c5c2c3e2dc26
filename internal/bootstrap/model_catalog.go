package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"audiodesk/internal/domain"
	"audiodesk/internal/transcribe"
)

const modelDownloadTimeout = 45 * time.Minute

// Models returns the catalog with entries present in models_dir marked.
func (s *Services) Models() []transcribe.ModelOption {
	return transcribe.Models(s.Settings().ModelsDir)
}

// DownloadModel fetches a catalog model into models_dir and makes it the
// configured model.
func (s *Services) DownloadModel(ctx context.Context, modelID string) (domain.Settings, error) {
	id := strings.TrimSpace(modelID)
	if id == "" {
		return domain.Settings{}, fmt.Errorf("model id is required")
	}
	model, ok := transcribe.LookupModel(id)
	if !ok {
		return domain.Settings{}, fmt.Errorf("unknown model id: %s", id)
	}

	settings := s.Settings()
	path, err := transcribe.DownloadModel(ctx, model.ID, settings.ModelsDir)
	if err != nil {
		return domain.Settings{}, err
	}
	s.log.Info().Str("model", model.ID).Str("path", path).Msg("model downloaded")

	settings.ModelName = model.ID
	return s.SaveSettings(settings)
}

// GetWhisperModels returns built-in whisper.cpp model presets for one-click downloads.
func (a *App) GetWhisperModels() []transcribe.ModelOption {
	return a.svc.Models()
}

// DownloadWhisperModel downloads the selected model and updates model_name.
func (a *App) DownloadWhisperModel(modelID string) (domain.Settings, error) {
	ctx, cancel := context.WithTimeout(context.Background(), modelDownloadTimeout)
	defer cancel()
	return a.svc.DownloadModel(ctx, modelID)
}
