package transcription

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/codebuildervaibhav/voice-memos/internal/duration"
)

const recognitionBinding = "memoRecognition"

// ChromeRecognizer plays audio into headless Chrome's fake microphone and
// reads results from the browser's speech recognition engine.
type ChromeRecognizer struct {
	tempDir  string
	execPath string
	// Drain is how long the session stays open after playback ends.
	Drain time.Duration
}

// NewChromeRecognizer creates a recognizer. execPath may be empty to let
// chromedp locate Chrome.
func NewChromeRecognizer(tempDir, execPath string) *ChromeRecognizer {
	return &ChromeRecognizer{tempDir: tempDir, execPath: execPath, Drain: 2 * time.Second}
}

func (c *ChromeRecognizer) Name() string { return "chrome" }

type recognitionMessage struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
	Ended bool   `json:"ended"`
	Error string `json:"error"`
}

// Listen implements Recognizer.
func (c *ChromeRecognizer) Listen(ctx context.Context, audio Audio, language string) (<-chan Recognition, error) {
	inputPath, err := WriteTemp(c.tempDir, audio)
	if err != nil {
		return nil, err
	}
	defer os.Remove(inputPath)

	// Chrome's fake capture device only reads WAV.
	wavPath, err := NormalizeAudio(ctx, inputPath, c.tempDir)
	if err != nil {
		return nil, err
	}
	wavData, err := os.ReadFile(wavPath)
	if err != nil {
		os.Remove(wavPath)
		return nil, fmt.Errorf("failed to read normalized audio: %w", err)
	}
	seconds, err := duration.WAVMetadata{}.Duration(ctx, wavData, "audio/wav")
	if err != nil {
		os.Remove(wavPath)
		return nil, err
	}
	playback := time.Duration(seconds * float64(time.Second))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("use-fake-ui-for-media-stream", true),
		chromedp.Flag("use-fake-device-for-media-stream", true),
		chromedp.Flag("use-file-for-fake-audio-capture", wavPath+"%noloop"),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if c.execPath != "" {
		opts = append(opts, chromedp.ExecPath(c.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	events := make(chan Recognition, 32)
	var (
		mu     sync.Mutex
		closed bool
	)
	emit := func(r Recognition) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case events <- r:
		default:
			log.Printf("Chrome recognizer: dropping event, consumer too slow")
		}
	}
	shutdown := func() {
		mu.Lock()
		if !closed {
			closed = true
			close(events)
		}
		mu.Unlock()
		cancelBrowser()
		cancelAlloc()
		os.Remove(wavPath)
	}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		called, ok := ev.(*runtime.EventBindingCalled)
		if !ok || called.Name != recognitionBinding {
			return
		}
		var msg recognitionMessage
		if err := json.Unmarshal([]byte(called.Payload), &msg); err != nil {
			return
		}
		if msg.Error != "" {
			log.Printf("Chrome recognizer: %s", msg.Error)
			return
		}
		if msg.Ended {
			go shutdown()
			return
		}
		emit(Recognition{Text: msg.Text, Final: msg.Final})
	})

	var started bool
	err = chromedp.Run(browserCtx,
		runtime.AddBinding(recognitionBinding),
		chromedp.Navigate("about:blank"),
		chromedp.Evaluate(recognitionScript(language), &started),
	)
	if err != nil || !started {
		shutdown()
		if err == nil {
			err = fmt.Errorf("speech recognition unavailable in browser")
		}
		return nil, fmt.Errorf("failed to start chrome recognition: %w", err)
	}

	go func() {
		select {
		case <-time.After(playback):
			emit(Recognition{Ended: true})
		case <-browserCtx.Done():
			shutdown()
			return
		}
		select {
		case <-time.After(c.Drain):
		case <-browserCtx.Done():
		}
		shutdown()
	}()

	return events, nil
}

func recognitionScript(language string) string {
	lang, _ := json.Marshal(strings.TrimSpace(language))
	return fmt.Sprintf(`(() => {
  const Rec = window.SpeechRecognition || window.webkitSpeechRecognition;
  if (!Rec) { return false; }
  const send = (m) => window.%[1]s(JSON.stringify(m));
  const rec = new Rec();
  if (%[2]s) { rec.lang = %[2]s; }
  rec.continuous = true;
  rec.interimResults = true;
  rec.onresult = (e) => {
    for (let i = e.resultIndex; i < e.results.length; i++) {
      send({text: e.results[i][0].transcript, final: e.results[i].isFinal});
    }
  };
  rec.onerror = (e) => send({error: String(e.error)});
  rec.onend = () => send({ended: true});
  rec.start();
  return true;
})()`, recognitionBinding, lang)
}
