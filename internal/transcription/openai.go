package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/codebuildervaibhav/voice-memos/internal/types"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultOpenAIModel   = "whisper-1"
)

// OpenAIConfig configures the primary cloud provider.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func (c OpenAIConfig) withDefaults() OpenAIConfig {
	out := c
	if strings.TrimSpace(out.BaseURL) == "" {
		out.BaseURL = DefaultOpenAIBaseURL
	}
	if strings.TrimSpace(out.Model) == "" {
		out.Model = DefaultOpenAIModel
	}
	if out.Timeout <= 0 {
		out.Timeout = DefaultTimeout
	}
	return out
}

// OpenAIProvider transcribes through the OpenAI audio transcription API.
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider creates the provider. The SDK's own retries are
// disabled: a job never retries automatically.
func NewOpenAIProvider(cfg OpenAIConfig, httpClient *http.Client) (*OpenAIProvider, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout + 5*time.Second}
	}

	client := openai.NewClient(
		option.WithBaseURL(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")+"/"),
		option.WithAPIKey(strings.TrimSpace(cfg.APIKey)),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.Timeout),
	)
	return &OpenAIProvider{client: client, model: cfg.Model}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai:" + p.model
}

// verboseTranscription matches the verbose_json response body.
type verboseTranscription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe implements Provider.
func (p *OpenAIProvider) Transcribe(ctx context.Context, audio Audio, opts Options) (Response, error) {
	if len(audio.Data) == 0 {
		return nil, NewError(KindInvalidFormat, "audio payload is empty", nil)
	}

	contentType, _, _ := strings.Cut(audio.MimeType, ";")
	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio.Data), "memo"+ExtensionFor(audio.MimeType), contentType),
		Model: openai.AudioModel(p.model),
	}
	if p.model == DefaultOpenAIModel {
		params.ResponseFormat = openai.AudioResponseFormatVerboseJSON
	}
	if opts.Language != "" {
		params.Language = openai.String(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = openai.String(opts.Prompt)
	}

	res, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAI(err)
	}

	resp := &CloudResponse{Name: p.Name(), Text: res.Text, Language: opts.Language}
	var verbose verboseTranscription
	if raw := res.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &verbose) == nil {
		if resp.Language == "" {
			resp.Language = verbose.Language
		}
		resp.DurationSeconds = verbose.Duration
		for _, seg := range verbose.Segments {
			resp.Segments = append(resp.Segments, types.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
		}
	}
	return resp, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		kind := KindFromStatus(apiErr.StatusCode)
		if kind == KindQuotaExceeded || kind == KindAuthenticationFailed || kind == KindFileTooLarge {
			return NewError(kind, kindMessages[kind], err)
		}
		msg := strings.ToLower(apiErr.Message)
		if strings.Contains(msg, "format") || strings.Contains(msg, "decode") {
			kind = KindInvalidFormat
		}
		return NewError(kind, kindMessages[kind], err)
	}
	return Classify(err)
}
