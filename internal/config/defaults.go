package config

import (
	"os"
	"path/filepath"

	"audiodesk/internal/domain"
)

const (
	// DefaultFileName is used when neither a flag nor AUDIODESK_CONFIG names a file.
	DefaultFileName = "app_config.json"
	// EnvConfigPath overrides the settings file location.
	EnvConfigPath = "AUDIODESK_CONFIG"

	DefaultModelName      = "base"
	DefaultRecordDuration = 10
	DefaultSliceTimeMs    = 4000
	DefaultOutputFilename = "output.wav"
	DefaultEngine         = "whisper-cli"
	DefaultLanguage       = "auto"
	DefaultTranscriptDir  = "output"
)

// DefaultSettings returns the baseline document written on first launch and
// used to back-fill keys missing from an existing file.
func DefaultSettings() domain.Settings {
	return domain.Settings{
		ModelName:      DefaultModelName,
		RecordDuration: DefaultRecordDuration,
		SliceTimeMs:    DefaultSliceTimeMs,
		OutputFilename: DefaultOutputFilename,
		Engine:         DefaultEngine,
		Language:       DefaultLanguage,
		ModelsDir:      DefaultModelsDir(),
		TranscriptDir:  DefaultTranscriptDir,
	}
}

// AppDir is the per-user directory for models, logs and tools.
func AppDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".audiodesk")
}

// DefaultModelsDir is where downloaded whisper.cpp models are kept.
func DefaultModelsDir() string {
	return filepath.Join(AppDir(), "models")
}

// DefaultPath resolves the settings file: explicit flag value first, then
// the environment, then app_config.json in the working directory.
func DefaultPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return DefaultFileName
}
