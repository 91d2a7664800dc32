package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

type GPTSoVITSConfig struct {
	APIURL  string
	Timeout time.Duration

	TextLang        string
	RefAudioPath    string
	RefText         string
	RefTextLang     string
	TopK            int
	TopP            float64
	Temperature     float64
	TextSplitMethod string
	SpeedFactor     float64
}

// GPTSoVITS drives a GPT-SoVITS inference server through its HTTP API.
// One POST per utterance; the response body is the rendered WAV.
type GPTSoVITS struct {
	cfg GPTSoVITSConfig
	cli *http.Client
}

func NewGPTSoVITS(cfg GPTSoVITSConfig) *GPTSoVITS {
	if cfg.TextLang == "" {
		cfg.TextLang = "zh"
	}
	if cfg.RefTextLang == "" {
		cfg.RefTextLang = cfg.TextLang
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.TopP <= 0 {
		cfg.TopP = 1
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 1
	}
	if cfg.TextSplitMethod == "" {
		cfg.TextSplitMethod = "cut5"
	}
	if cfg.SpeedFactor <= 0 {
		cfg.SpeedFactor = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &GPTSoVITS{cfg: cfg, cli: newHTTPClient(cfg.Timeout)}
}

type gptSoVITSRequest struct {
	Text            string  `json:"text"`
	TextLang        string  `json:"text_lang"`
	RefAudioPath    string  `json:"ref_audio_path"`
	PromptText      string  `json:"prompt_text"`
	PromptLang      string  `json:"prompt_lang"`
	TopK            int     `json:"top_k"`
	TopP            float64 `json:"top_p"`
	Temperature     float64 `json:"temperature"`
	TextSplitMethod string  `json:"text_split_method"`
	SpeedFactor     float64 `json:"speed_factor"`
	MediaType       string  `json:"media_type"`
	StreamingMode   bool    `json:"streaming_mode"`
}

func (g *GPTSoVITS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload := gptSoVITSRequest{
		Text:            text,
		TextLang:        g.cfg.TextLang,
		RefAudioPath:    g.cfg.RefAudioPath,
		PromptText:      g.cfg.RefText,
		PromptLang:      g.cfg.RefTextLang,
		TopK:            g.cfg.TopK,
		TopP:            g.cfg.TopP,
		Temperature:     g.cfg.Temperature,
		TextSplitMethod: g.cfg.TextSplitMethod,
		SpeedFactor:     g.cfg.SpeedFactor,
		MediaType:       "wav",
		StreamingMode:   false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tts: gpt-sovits marshal: %w", err)
	}

	endpoint := strings.TrimRight(g.cfg.APIURL, "/") + "/tts"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: gpt-sovits request: %w", err)
	}
	return readBody(resp)
}
