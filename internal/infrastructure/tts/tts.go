// Package tts implements the speech synthesis backends. Each backend is a
// small HTTP client satisfying domain.Synthesizer; picking one is a config
// concern.
package tts

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"bliveTTS/internal/domain"
)

const (
	BackendFishSpeech = "fish_speech"
	BackendGPTSoVITS  = "gpt_sovits"
	BackendMiniMax    = "minimax"
	BackendGoogle     = "google"
)

type Options struct {
	Backend string

	FishSpeech FishSpeechConfig
	GPTSoVITS  GPTSoVITSConfig
	MiniMax    MiniMaxConfig
	Google     GoogleConfig
}

// New returns the synthesizer selected by Backend.
func New(opts Options) (domain.Synthesizer, error) {
	switch opts.Backend {
	case BackendFishSpeech:
		return NewFishSpeech(opts.FishSpeech), nil
	case BackendGPTSoVITS:
		return NewGPTSoVITS(opts.GPTSoVITS), nil
	case BackendMiniMax:
		return NewMiniMax(opts.MiniMax), nil
	case BackendGoogle, "":
		return NewGoogle(opts.Google), nil
	default:
		return nil, fmt.Errorf("tts: unknown backend %q", opts.Backend)
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts: status %d: %s", resp.StatusCode, string(body))
	}
	return io.ReadAll(resp.Body)
}
