package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type FishSpeechConfig struct {
	APIURL  string
	Timeout time.Duration

	ChunkLength       int
	MaxNewTokens      int
	TopP              float64
	RepetitionPenalty float64
	Temperature       float64
}

// FishSpeech talks to a locally hosted fish-speech inference server. The
// server answers a single POST with the finished WAV bytes.
type FishSpeech struct {
	cfg FishSpeechConfig
	cli *http.Client
}

func NewFishSpeech(cfg FishSpeechConfig) *FishSpeech {
	if cfg.ChunkLength <= 0 {
		cfg.ChunkLength = 200
	}
	if cfg.MaxNewTokens <= 0 {
		cfg.MaxNewTokens = 1024
	}
	if cfg.TopP <= 0 {
		cfg.TopP = 0.8
	}
	if cfg.RepetitionPenalty <= 0 {
		cfg.RepetitionPenalty = 1.1
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.8
	}
	return &FishSpeech{cfg: cfg, cli: newHTTPClient(cfg.Timeout)}
}

type fishSpeechRequest struct {
	Text              string  `json:"text"`
	ChunkLength       int     `json:"chunk_length"`
	Format            string  `json:"format"`
	Seed              int     `json:"seed"`
	UseMemoryCache    string  `json:"use_memory_cache"`
	Normalize         bool    `json:"normalize"`
	Streaming         bool    `json:"streaming"`
	MaxNewTokens      int     `json:"max_new_tokens"`
	TopP              float64 `json:"top_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	Temperature       float64 `json:"temperature"`
}

func (f *FishSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload := fishSpeechRequest{
		Text:              text,
		ChunkLength:       f.cfg.ChunkLength,
		Format:            "wav",
		Seed:              -1,
		UseMemoryCache:    "off",
		Normalize:         true,
		Streaming:         false,
		MaxNewTokens:      f.cfg.MaxNewTokens,
		TopP:              f.cfg.TopP,
		RepetitionPenalty: f.cfg.RepetitionPenalty,
		Temperature:       f.cfg.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tts: fish speech marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: fish speech request: %w", err)
	}
	return readBody(resp)
}
