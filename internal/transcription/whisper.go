package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// WhisperCLIRecognizer runs a local Python Whisper install and reports each
// transcribed segment as a final recognition result.
type WhisperCLIRecognizer struct {
	modelName string
	tempDir   string
	mu        sync.Mutex // one local model run at a time
}

// NewWhisperCLIRecognizer picks the model size from modelPath
// (e.g. "ggml-small.bin" -> "small").
func NewWhisperCLIRecognizer(modelPath, tempDir string) *WhisperCLIRecognizer {
	modelName := "small"
	for _, size := range []string{"tiny", "base", "small", "medium", "large"} {
		if strings.Contains(modelPath, size) {
			modelName = size
			break
		}
	}
	log.Printf("Whisper fallback will be called via: python -m whisper (model %s)", modelName)

	return &WhisperCLIRecognizer{modelName: modelName, tempDir: tempDir}
}

func (w *WhisperCLIRecognizer) Name() string {
	return "whisper-cli:" + w.modelName
}

// Listen implements Recognizer.
func (w *WhisperCLIRecognizer) Listen(ctx context.Context, audio Audio, language string) (<-chan Recognition, error) {
	inputPath, err := WriteTemp(w.tempDir, audio)
	if err != nil {
		return nil, err
	}

	events := make(chan Recognition, 32)
	go func() {
		defer close(events)
		defer os.Remove(inputPath)

		output, err := w.run(ctx, inputPath, language)
		if err != nil {
			log.Printf("Whisper fallback failed: %v", err)
			return
		}
		for _, seg := range output.Segments {
			select {
			case events <- Recognition{Text: strings.TrimSpace(seg.Text), Final: true}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case events <- Recognition{Ended: true}:
		case <-ctx.Done():
		}
	}()
	return events, nil
}

func (w *WhisperCLIRecognizer) run(ctx context.Context, inputPath, language string) (*WhisperOutput, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	normalizedPath, err := NormalizeAudio(ctx, inputPath, w.tempDir)
	if err != nil {
		return nil, err
	}
	defer os.Remove(normalizedPath)

	outDir, err := os.MkdirTemp(w.tempDir, "whisper_output_")
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	absAudioPath, err := filepath.Abs(normalizedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	args := []string{"-m", "whisper",
		absAudioPath,
		"--model", w.modelName,
		"--output_dir", outDir,
		"--output_format", "json",
		"--fp16", "False", // CPU compatibility
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	output, err := exec.CommandContext(ctx, "python", args...).CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("whisper transcription failed: %w\nOutput: %s", err, string(output))
	}

	baseName := strings.TrimSuffix(filepath.Base(normalizedPath), filepath.Ext(normalizedPath))
	jsonData, err := os.ReadFile(filepath.Join(outDir, baseName+".json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read whisper output: %w", err)
	}

	var whisperOutput WhisperOutput
	if err := json.Unmarshal(jsonData, &whisperOutput); err != nil {
		return nil, fmt.Errorf("failed to parse whisper JSON: %w", err)
	}
	return &whisperOutput, nil
}

// WhisperOutput matches Python Whisper's JSON output format
type WhisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []WhisperSegment `json:"segments"`
}

// WhisperSegment represents a timestamped segment from Whisper
type WhisperSegment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
