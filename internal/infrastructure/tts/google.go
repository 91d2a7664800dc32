package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hegedustibor/htgo-tts/voices"
)

const googleChunkSize = 200

type GoogleConfig struct {
	// Voice is a translate_tts language code such as voices.English.
	Voice   string
	Timeout time.Duration

	// BaseURL overrides the translate endpoint, mainly for tests.
	BaseURL string
}

// Google fetches MP3 audio from the public translate_tts endpoint. Long texts
// are split into rune chunks and the responses concatenated; the endpoint
// rejects queries past a few hundred characters.
type Google struct {
	cfg GoogleConfig
	cli *http.Client
}

func NewGoogle(cfg GoogleConfig) *Google {
	if cfg.Voice == "" {
		cfg.Voice = voices.Chinese
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://translate.google.com/translate_tts"
	}
	return &Google{cfg: cfg, cli: newHTTPClient(cfg.Timeout)}
}

func (g *Google) Synthesize(ctx context.Context, text string) ([]byte, error) {
	voice := strings.TrimSpace(g.cfg.Voice)
	runes := []rune(text)
	buf := bytes.NewBuffer(nil)

	for start := 0; start < len(runes); start += googleChunkSize {
		end := start + googleChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		audio, err := g.fetchChunk(ctx, string(runes[start:end]), voice)
		if err != nil {
			return nil, err
		}
		buf.Write(audio)
	}

	return buf.Bytes(), nil
}

func (g *Google) fetchChunk(ctx context.Context, text, voice string) ([]byte, error) {
	params := url.Values{}
	params.Set("ie", "UTF-8")
	params.Set("client", "tw-ob")
	params.Set("q", text)
	params.Set("tl", voice)
	params.Set("total", "1")
	params.Set("idx", "0")
	params.Set("textlen", fmt.Sprintf("%d", len([]rune(text))))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := g.cli.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts: google tts status %d: %s", resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}
