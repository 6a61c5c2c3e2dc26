package bootstrap

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"audiodesk/internal/controller"
	"audiodesk/internal/domain"
	"audiodesk/internal/jobs"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

// Runtime event names pushed to the frontend.
const (
	EventState = "ui:state"
	EventTask  = "task:event"
)

var audioDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Audio files",
		Pattern:     "*.wav;*.flac;*.mp3;*.m4a;*.ogg;*.webm;*.mp4",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// App is the desktop binding: every exported method is callable from the
// frontend and forwards to the controller or the shared services.
type App struct {
	svc    *Services
	assets fs.FS

	mu          sync.Mutex
	runtimeCtx  context.Context
	unsubscribe []func()
}

// NewApp binds svc to a desktop window. assets may be nil, in which case
// ./frontend is served from disk.
func NewApp(svc *Services, assets fs.FS) *App {
	return &App{svc: svc, assets: assets}
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "audiodesk",
		Width:       960,
		Height:      680,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the runtime context and starts pushing state and task
// events to the frontend.
func (a *App) Startup(ctx context.Context) {
	a.mu.Lock()
	a.runtimeCtx = ctx
	a.mu.Unlock()

	a.svc.SetNotifier(controller.NotifierFunc(a.showError))
	stopState := a.svc.OnStateChange(func(state controller.State) {
		a.emit(EventState, state)
	})
	stopEvents := a.svc.Executor.Events().Subscribe(func(event jobs.Event) {
		a.emit(EventTask, event)
	})

	a.mu.Lock()
	a.unsubscribe = append(a.unsubscribe, stopState, stopEvents)
	a.mu.Unlock()
}

// Shutdown detaches from the runtime and stops the services.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.runtimeCtx = nil
	a.mu.Unlock()

	for _, fn := range unsubscribe {
		fn()
	}
	a.svc.SetNotifier(nil)
	a.svc.Close()
}

// GetSettings returns the active settings.
func (a *App) GetSettings() domain.Settings {
	return a.svc.Settings()
}

// SaveSettings normalizes and persists settings, then refreshes diagnostics.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	return a.svc.SaveSettings(settings)
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	return a.svc.Diagnostics()
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	if _, err := a.svc.ReloadSettings(); err != nil {
		return domain.DiagnosticReport{}, err
	}
	return a.svc.Diagnostics(), nil
}

// GetState returns the controls and status line.
func (a *App) GetState() controller.State {
	return a.svc.Controller.Snapshot()
}

// StartRecording records durationInput seconds into the configured file.
func (a *App) StartRecording(durationInput string) (domain.Task, error) {
	if _, err := a.svc.Controller.Record(durationInput); err != nil {
		return domain.Task{}, err
	}
	return a.svc.Executor.Current(), nil
}

// SliceAudio splits path (or the latest recording) at splitInput ms.
func (a *App) SliceAudio(path, splitInput string) (domain.Task, error) {
	if _, err := a.svc.Controller.Slice(path, splitInput); err != nil {
		return domain.Task{}, err
	}
	return a.svc.Executor.Current(), nil
}

// StartTranscription transcribes path (or the latest recording).
func (a *App) StartTranscription(path string) (domain.Task, error) {
	if _, err := a.svc.Controller.Transcribe(path); err != nil {
		return domain.Task{}, err
	}
	return a.svc.Executor.Current(), nil
}

// CancelTask cancels the running task, if any.
func (a *App) CancelTask() error {
	return a.svc.Controller.Cancel()
}

// CurrentTask returns the current or last task.
func (a *App) CurrentTask() domain.Task {
	return a.svc.Executor.Current()
}

// TaskEvents returns all events with sequence greater than sinceSeq.
func (a *App) TaskEvents(sinceSeq int64) []jobs.Event {
	return a.svc.Executor.Events().Since(sinceSeq)
}

// PickAudioFile opens a native file dialog for audio selection.
func (a *App) PickAudioFile() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenFileDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select audio file",
		Filters: audioDialogFilter,
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickModelDirectory opens a native directory picker for model folders.
func (a *App) PickModelDirectory() (string, error) {
	return a.pickDirectory("Select model directory")
}

// PickTranscriptDirectory opens a native directory picker for transcripts.
func (a *App) PickTranscriptDirectory() (string, error) {
	return a.pickDirectory("Select transcript directory")
}

// OpenOutputFolder opens path, or the transcript directory, in the file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		target = a.svc.Settings().TranscriptDir
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

func (a *App) pickDirectory(title string) (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{Title: title})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// showError runs on the loop, so the modal dialog is opened off it.
func (a *App) showError(title, message string) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return
	}
	go func() {
		_, _ = wailsruntime.MessageDialog(ctx, wailsruntime.MessageDialogOptions{
			Type:    wailsruntime.ErrorDialog,
			Title:   title,
			Message: message,
		})
	}()
}

func (a *App) emit(name string, payload any) {
	a.mu.Lock()
	ctx := a.runtimeCtx
	a.mu.Unlock()
	if ctx != nil {
		wailsruntime.EventsEmit(ctx, name, payload)
	}
}

// runtimeContext returns current Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// openInFileManager launches the platform file explorer for the provided path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
