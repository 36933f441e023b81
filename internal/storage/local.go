package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codebuildervaibhav/voice-memos/internal/transcription"
)

const localScheme = "local://"

// LocalStorage keeps audio blobs on the local filesystem.
type LocalStorage struct {
	outputDir string
	now       func() time.Time
}

// NewLocalStorage creates a new local storage handler
func NewLocalStorage(outputDir string) *LocalStorage {
	return &LocalStorage{
		outputDir: outputDir,
		now:       time.Now,
	}
}

// Put saves the audio under a dated directory, e.g. audio/2025/01/23/.
func (ls *LocalStorage) Put(ctx context.Context, key string, data []byte, mimeType string) (string, error) {
	now := ls.now()
	rel := filepath.Join(
		fmt.Sprintf("%d", now.Year()),
		fmt.Sprintf("%02d", now.Month()),
		fmt.Sprintf("%02d", now.Day()),
		// 20250123_143022_<key>.webm
		fmt.Sprintf("%s_%s%s", now.Format("20060102_150405"), sanitizeFilename(key), transcription.ExtensionFor(mimeType)),
	)
	path := filepath.Join(ls.outputDir, rel)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("failed to create date directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to save audio: %w", err)
	}
	return localScheme + filepath.ToSlash(rel), nil
}

// Get reads a blob previously returned by Put.
func (ls *LocalStorage) Get(ctx context.Context, ref string) ([]byte, error) {
	rel, ok := strings.CutPrefix(ref, localScheme)
	if !ok {
		return nil, fmt.Errorf("not a local reference: %s", ref)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("invalid local reference: %s", ref)
	}
	data, err := os.ReadFile(filepath.Join(ls.outputDir, clean))
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	return data, nil
}

// Handles reports whether ref belongs to this store.
func (ls *LocalStorage) Handles(ref string) bool {
	return strings.HasPrefix(ref, localScheme)
}

// sanitizeFilename replaces characters that are invalid in file names.
func sanitizeFilename(name string) string {
	result := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
	if len(result) > 100 {
		result = result[:100] // Limit length
	}
	return result
}
