package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	goruntime "runtime"
	"strings"
	"time"

	"audiodesk/internal/config"
	"audiodesk/internal/diagnostics"
	"audiodesk/internal/domain"
	"audiodesk/internal/transcribe"
)

const installCommandTimeout = 45 * time.Minute

type installOption struct {
	manager  string
	commands [][]string
}

// installer runs package-manager commands. Tests replace lookPath and run.
type installer struct {
	goos     string
	lookPath func(string) (string, error)
	run      func(ctx context.Context, name string, args ...string) error
}

func newInstaller() *installer {
	return &installer{goos: goruntime.GOOS, lookPath: exec.LookPath, run: runCommand}
}

// Fix applies the remediation for one failed diagnostic item and returns
// the refreshed report. The report is returned even when the fix fails.
func (s *Services) Fix(ctx context.Context, itemID string) (domain.DiagnosticReport, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.DiagnosticReport{}, fmt.Errorf("diagnostic item id is required")
	}

	settings := s.Settings()
	var fixErr error
	switch id {
	case diagnostics.ItemFFmpeg:
		fixErr = s.installer().installFFmpeg(ctx)
	case diagnostics.ItemWhisperCLI:
		fixErr = s.installer().installWhisperCLI(ctx)
	case diagnostics.ItemModel:
		name := settings.ModelName
		if _, ok := transcribe.LookupModel(name); !ok {
			name = config.DefaultModelName
		}
		_, fixErr = s.DownloadModel(ctx, name)
	case diagnostics.ItemTranscriptDir:
		fixErr = s.fixTranscriptDir(settings)
	case diagnostics.ItemEngine:
		settings.Engine = config.DefaultEngine
		_, fixErr = s.SaveSettings(settings)
	default:
		return s.Diagnostics(), fmt.Errorf("unsupported diagnostic item id: %s", id)
	}

	report := s.RefreshDiagnostics()
	if fixErr != nil {
		s.log.Warn().Err(fixErr).Str("item", id).Msg("diagnostic fix failed")
		return report, fixErr
	}
	s.log.Info().Str("item", id).Msg("diagnostic fixed")
	return report, nil
}

// InstallOrFixDiagnostic applies an OS-specific remediation for one failed diagnostic item.
func (a *App) InstallOrFixDiagnostic(itemID string) (domain.DiagnosticReport, error) {
	return a.svc.Fix(context.Background(), itemID)
}

func (s *Services) installer() *installer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.install == nil {
		s.install = newInstaller()
	}
	return s.install
}

func (s *Services) fixTranscriptDir(settings domain.Settings) error {
	if strings.TrimSpace(settings.TranscriptDir) == "" {
		settings.TranscriptDir = config.DefaultTranscriptDir
		if _, err := s.SaveSettings(settings); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(settings.TranscriptDir, 0o755); err != nil {
		return fmt.Errorf("create transcript directory: %w", err)
	}
	return nil
}

func (i *installer) installFFmpeg(ctx context.Context) error {
	var options []installOption

	switch i.goos {
	case "windows":
		options = []installOption{
			{manager: "winget", commands: [][]string{
				{"winget", "install", "--id", "Gyan.FFmpeg", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
			}},
			{manager: "choco", commands: [][]string{{"choco", "install", "ffmpeg", "-y"}}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "ffmpeg"}}},
		}
	case "darwin":
		options = []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	default:
		options = []installOption{
			{manager: "apt-get", commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "install", "-y", "ffmpeg"},
			}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "ffmpeg"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "ffmpeg"}}},
			{manager: "zypper", commands: [][]string{{"zypper", "install", "-y", "ffmpeg"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "ffmpeg"}}},
		}
	}

	if err := i.runFirstSuccessfulInstall(ctx, options); err != nil {
		return fmt.Errorf("install ffmpeg: %w", err)
	}
	if err := i.requireToolsOnPath("ffmpeg"); err != nil {
		return fmt.Errorf("verify ffmpeg on PATH: %w", err)
	}
	return nil
}

func (i *installer) installWhisperCLI(ctx context.Context) error {
	if err := i.requireToolsOnPath(transcribe.EngineWhisperCLI); err == nil {
		return nil
	}

	var options []installOption

	switch i.goos {
	case "windows":
		options = []installOption{
			{manager: "winget", commands: [][]string{
				{"winget", "install", "--id", "ggerganov.whisper.cpp", "--exact", "--accept-source-agreements", "--accept-package-agreements"},
			}},
			{manager: "scoop", commands: [][]string{{"scoop", "install", "whisper-cpp"}}},
		}
	case "darwin":
		options = []installOption{
			{manager: "brew", commands: [][]string{{"brew", "install", "whisper-cpp"}}},
		}
	default:
		options = []installOption{
			{manager: "apt-get", commands: [][]string{
				{"apt-get", "update"},
				{"apt-get", "install", "-y", "whisper-cpp"},
			}},
			{manager: "dnf", commands: [][]string{{"dnf", "install", "-y", "whisper-cpp"}}},
			{manager: "pacman", commands: [][]string{{"pacman", "-Sy", "--noconfirm", "whisper.cpp"}}},
			{manager: "brew", commands: [][]string{{"brew", "install", "whisper-cpp"}}},
		}
	}

	if err := i.runFirstSuccessfulInstall(ctx, options); err != nil {
		return fmt.Errorf("install whisper.cpp: %w", err)
	}
	if err := i.requireToolsOnPath(transcribe.EngineWhisperCLI); err != nil {
		return fmt.Errorf("verify %s on PATH: %w", transcribe.EngineWhisperCLI, err)
	}
	return nil
}

func (i *installer) runFirstSuccessfulInstall(ctx context.Context, options []installOption) error {
	if len(options) == 0 {
		return fmt.Errorf("no install commands configured for OS %s", i.goos)
	}

	errorsByManager := make([]string, 0, len(options))
	atLeastOneManager := false

	for _, option := range options {
		if !i.commandAvailable(option.manager) {
			continue
		}
		atLeastOneManager = true
		err := i.runInstallCommands(ctx, option.commands)
		if err == nil {
			return nil
		}
		errorsByManager = append(errorsByManager, fmt.Sprintf("%s: %v", option.manager, err))
	}

	if !atLeastOneManager {
		return fmt.Errorf("no supported package manager found for %s", i.goos)
	}
	return errors.New(strings.Join(errorsByManager, " | "))
}

func (i *installer) runInstallCommands(ctx context.Context, commands [][]string) error {
	for _, command := range commands {
		if err := i.runWithPossibleElevation(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

func (i *installer) runWithPossibleElevation(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return fmt.Errorf("empty command")
	}

	candidates := [][]string{command}
	if i.goos == "linux" && requiresElevation(command[0]) {
		if i.commandAvailable("pkexec") {
			candidates = append(candidates, append([]string{"pkexec"}, command...))
		}
		if i.commandAvailable("sudo") {
			candidates = append(candidates, append([]string{"sudo", "-n"}, command...))
		}
	}

	attemptErrors := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		err := i.run(ctx, candidate[0], candidate[1:]...)
		if err == nil {
			return nil
		}
		attemptErrors = append(attemptErrors, err.Error())
	}

	return errors.New(strings.Join(attemptErrors, " | "))
}

func (i *installer) commandAvailable(name string) bool {
	_, err := i.lookPath(name)
	return err == nil
}

func (i *installer) requireToolsOnPath(names ...string) error {
	missing := make([]string, 0, len(names))
	for _, name := range names {
		if !i.commandAvailable(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing tools on PATH: %s", strings.Join(missing, ", "))
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, installCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s timed out after %s", formatCommand(name, args), installCommandTimeout)
	}

	trimmed := strings.TrimSpace(string(output))
	if len(trimmed) > 500 {
		trimmed = trimmed[:500] + "..."
	}
	if trimmed == "" {
		return fmt.Errorf("%s failed: %w", formatCommand(name, args), err)
	}
	return fmt.Errorf("%s failed: %w (%s)", formatCommand(name, args), err, trimmed)
}

func formatCommand(name string, args []string) string {
	parts := append([]string{name}, args...)
	return strings.Join(parts, " ")
}

func requiresElevation(manager string) bool {
	switch manager {
	case "apt-get", "dnf", "pacman", "zypper":
		return true
	default:
		return false
	}
}
