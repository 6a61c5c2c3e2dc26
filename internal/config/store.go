package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"audiodesk/internal/domain"
)

// ErrUnsupportedFormat is returned for settings files that are neither JSON nor YAML.
var ErrUnsupportedFormat = errors.New("unsupported settings format")

// ErrUnknownKey is returned by Apply for keys outside the settings document.
var ErrUnknownKey = errors.New("unknown settings key")

// Store defines persistence operations for app settings.
type Store interface {
	Load() (domain.Settings, error)
	Save(domain.Settings) error
}

// FileStore persists settings in a single JSON or YAML file, picked by extension.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed settings store.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the settings file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads settings from disk. A missing file is created with defaults;
// keys absent from an existing file are back-filled from DefaultSettings
// while present keys keep their stored values.
func (s *FileStore) Load() (domain.Settings, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := DefaultSettings()
			if err := s.Save(cfg); err != nil {
				return cfg, fmt.Errorf("create default settings: %w", err)
			}
			return cfg, nil
		}

		return domain.Settings{}, err
	}

	cfg := DefaultSettings()
	switch s.format() {
	case "yaml":
		err = yaml.Unmarshal(data, &cfg)
	case "json":
		err = json.Unmarshal(data, &cfg)
	default:
		return domain.Settings{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, s.path)
	}
	if err != nil {
		return domain.Settings{}, fmt.Errorf("parse %s: %w", s.path, err)
	}

	return cfg, nil
}

// Save writes settings and creates parent directories.
func (s *FileStore) Save(cfg domain.Settings) error {
	var (
		data []byte
		err  error
	)
	switch s.format() {
	case "yaml":
		data, err = yaml.Marshal(cfg)
	case "json":
		data, err = json.MarshalIndent(cfg, "", "    ")
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, s.path)
	}
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o644)
}

func (s *FileStore) format() string {
	switch strings.ToLower(filepath.Ext(s.path)) {
	case ".yml", ".yaml":
		return "yaml"
	case ".json", "":
		return "json"
	default:
		return ""
	}
}

// Keys lists the settings keys accepted by Apply, in document order.
func Keys() []string {
	return []string{
		"model_name", "record_duration", "slice_time_ms", "output_filename",
		"engine", "language", "models_dir", "transcript_dir",
		"capture_format", "capture_device", "openai_base_url",
	}
}

// Apply sets one key from its string form, as typed on a command line.
func Apply(cfg *domain.Settings, key, value string) error {
	value = strings.TrimSpace(value)
	switch key {
	case "model_name":
		cfg.ModelName = value
	case "record_duration":
		n, err := parseNonNegative(value)
		if err != nil {
			return fmt.Errorf("record_duration: %w", err)
		}
		cfg.RecordDuration = n
	case "slice_time_ms":
		n, err := parseNonNegative(value)
		if err != nil {
			return fmt.Errorf("slice_time_ms: %w", err)
		}
		cfg.SliceTimeMs = n
	case "output_filename":
		cfg.OutputFilename = value
	case "engine":
		cfg.Engine = value
	case "language":
		cfg.Language = value
	case "models_dir":
		cfg.ModelsDir = value
	case "transcript_dir":
		cfg.TranscriptDir = value
	case "capture_format":
		cfg.CaptureFormat = value
	case "capture_device":
		cfg.CaptureDevice = value
	case "openai_base_url":
		cfg.OpenAIBaseURL = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return nil
}

// Value returns one key in its string form.
func Value(cfg domain.Settings, key string) (string, error) {
	switch key {
	case "model_name":
		return cfg.ModelName, nil
	case "record_duration":
		return strconv.Itoa(cfg.RecordDuration), nil
	case "slice_time_ms":
		return strconv.Itoa(cfg.SliceTimeMs), nil
	case "output_filename":
		return cfg.OutputFilename, nil
	case "engine":
		return cfg.Engine, nil
	case "language":
		return cfg.Language, nil
	case "models_dir":
		return cfg.ModelsDir, nil
	case "transcript_dir":
		return cfg.TranscriptDir, nil
	case "capture_format":
		return cfg.CaptureFormat, nil
	case "capture_device":
		return cfg.CaptureDevice, nil
	case "openai_base_url":
		return cfg.OpenAIBaseURL, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// Normalize trims user input and restores defaults for values that would
// leave the app unusable.
func Normalize(cfg domain.Settings) domain.Settings {
	def := DefaultSettings()

	cfg.ModelName = strings.TrimSpace(cfg.ModelName)
	cfg.OutputFilename = strings.TrimSpace(cfg.OutputFilename)
	cfg.Engine = strings.TrimSpace(cfg.Engine)
	cfg.Language = strings.TrimSpace(cfg.Language)
	cfg.ModelsDir = strings.TrimSpace(cfg.ModelsDir)
	cfg.TranscriptDir = strings.TrimSpace(cfg.TranscriptDir)
	cfg.CaptureFormat = strings.TrimSpace(cfg.CaptureFormat)
	cfg.CaptureDevice = strings.TrimSpace(cfg.CaptureDevice)
	cfg.OpenAIBaseURL = strings.TrimSpace(cfg.OpenAIBaseURL)

	if cfg.ModelName == "" {
		cfg.ModelName = def.ModelName
	}
	if cfg.RecordDuration < 0 {
		cfg.RecordDuration = def.RecordDuration
	}
	if cfg.SliceTimeMs < 0 {
		cfg.SliceTimeMs = def.SliceTimeMs
	}
	if cfg.OutputFilename == "" {
		cfg.OutputFilename = def.OutputFilename
	}
	if cfg.Engine == "" {
		cfg.Engine = def.Engine
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.ModelsDir == "" {
		cfg.ModelsDir = def.ModelsDir
	}
	if cfg.TranscriptDir == "" {
		cfg.TranscriptDir = def.TranscriptDir
	}
	return cfg
}

func parseNonNegative(value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %q", value)
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative: %d", n)
	}
	return n, nil
}
