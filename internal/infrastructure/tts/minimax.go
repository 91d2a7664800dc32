package tts

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type MiniMaxConfig struct {
	APIURL  string
	APIKey  string
	Model   string
	VoiceID string
	Timeout time.Duration

	Speed float64
	Vol   float64
	Pitch int
}

// MiniMax calls the hosted MiniMax t2a endpoint. Audio comes back hex-encoded
// inside the JSON response rather than as a raw body.
type MiniMax struct {
	cfg MiniMaxConfig
	cli *http.Client
}

func NewMiniMax(cfg MiniMaxConfig) *MiniMax {
	if cfg.Model == "" {
		cfg.Model = "speech-01-turbo"
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1
	}
	if cfg.Vol <= 0 {
		cfg.Vol = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &MiniMax{cfg: cfg, cli: newHTTPClient(cfg.Timeout)}
}

type miniMaxVoiceSetting struct {
	VoiceID string  `json:"voice_id"`
	Speed   float64 `json:"speed"`
	Vol     float64 `json:"vol"`
	Pitch   int     `json:"pitch"`
}

type miniMaxRequest struct {
	Model        string              `json:"model"`
	Text         string              `json:"text"`
	VoiceSetting miniMaxVoiceSetting `json:"voice_setting"`
}

type miniMaxResponse struct {
	Data struct {
		Audio string `json:"audio"`
	} `json:"data"`
	BaseResp struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	} `json:"base_resp"`
}

func (m *MiniMax) Synthesize(ctx context.Context, text string) ([]byte, error) {
	payload := miniMaxRequest{
		Model: m.cfg.Model,
		Text:  text,
		VoiceSetting: miniMaxVoiceSetting{
			VoiceID: m.cfg.VoiceID,
			Speed:   m.cfg.Speed,
			Vol:     m.cfg.Vol,
			Pitch:   m.cfg.Pitch,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("tts: minimax marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.cli.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tts: minimax request: %w", err)
	}
	raw, err := readBody(resp)
	if err != nil {
		return nil, err
	}

	var out miniMaxResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("tts: minimax decode: %w", err)
	}
	if out.BaseResp.StatusCode != 0 {
		return nil, fmt.Errorf("tts: minimax error %d: %s", out.BaseResp.StatusCode, out.BaseResp.StatusMsg)
	}
	if out.Data.Audio == "" {
		return nil, fmt.Errorf("tts: minimax returned no audio")
	}

	audio, err := hex.DecodeString(out.Data.Audio)
	if err != nil {
		return nil, fmt.Errorf("tts: minimax audio decode: %w", err)
	}
	return audio, nil
}
