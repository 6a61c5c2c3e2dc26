package transcribe

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// EngineOpenAI names the engine backed by the OpenAI audio API.
const EngineOpenAI = "openai"

// defaultOpenAIModel is used when the configured model is a local catalog id.
const defaultOpenAIModel = "whisper-1"

// OpenAIEngine transcribes through the OpenAI (or compatible) audio API.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates the engine. baseURL may point at any
// OpenAI-compatible server.
func NewOpenAIEngine(apiKey, baseURL string) (*OpenAIEngine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OpenAI API key not provided (set OPENAI_API_KEY)")
	}
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimSpace(baseURL)
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg)}, nil
}

// Name returns the engine identifier.
func (o *OpenAIEngine) Name() string { return EngineOpenAI }

// LocalModel reports that the model runs remotely.
func (o *OpenAIEngine) LocalModel() bool { return false }

// Transcribe uploads the file and returns the verbose transcription.
func (o *OpenAIEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if _, err := os.Stat(req.InputPath); err != nil {
		return nil, &PipelineError{Stage: StagePreprocessing, Message: fmt.Sprintf("cannot access input audio: %s", req.InputPath), Err: err}
	}

	emitStage(req.OnStage, StageTranscribing)
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    remoteModel(req.Model),
		FilePath: req.InputPath,
		Language: normalizeLanguage(req.Language),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, &PipelineError{Stage: StageTranscribing, Message: "transcription API error", Err: err}
	}

	emitStage(req.OnStage, StageExporting)
	result := &Result{
		Text:     strings.TrimSpace(resp.Text),
		Language: resp.Language,
		Duration: time.Duration(resp.Duration * float64(time.Second)),
	}
	for _, seg := range resp.Segments {
		result.Segments = append(result.Segments, Segment{
			Start: time.Duration(seg.Start * float64(time.Second)),
			End:   time.Duration(seg.End * float64(time.Second)),
			Text:  seg.Text,
		})
	}
	return result, nil
}

// remoteModel passes API model names through and maps local catalog names
// to the hosted whisper model.
func remoteModel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultOpenAIModel
	}
	if _, ok := LookupModel(name); ok {
		return defaultOpenAIModel
	}
	if strings.ContainsAny(name, `/\`) || strings.HasSuffix(name, ".bin") || strings.HasSuffix(name, ".gguf") {
		return defaultOpenAIModel
	}
	return name
}
