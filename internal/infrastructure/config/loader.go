// Package config loads runtime settings from the environment, with an
// optional .env file for local runs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"bliveTTS/internal/logging"
	"bliveTTS/internal/usecase/dispatch"
)

var logger = logging.ComponentLogger("config")

type Config struct {
	RoomID         int64
	BridgeEndpoint string

	// Trigger switches per event category.
	DanmakuOn   bool
	GuardOn     bool
	SuperChatOn bool
	FreeGiftOn  bool

	GiftThresholdCNY float64

	MergeOn        bool
	MergeWindow    time.Duration
	MergeIncrement time.Duration
	MergeWindowMax time.Duration

	Templates dispatch.Templates
	Aliases   map[string]string

	TTSBackend string

	FishSpeechURL string

	GPTSoVITSURL             string
	GPTSoVITSTextLang        string
	GPTSoVITSRefAudioPath    string
	GPTSoVITSRefText         string
	GPTSoVITSRefTextLang     string
	GPTSoVITSTopK            int
	GPTSoVITSTopP            float64
	GPTSoVITSTemperature     float64
	GPTSoVITSTextSplitMethod string
	GPTSoVITSSpeedFactor     float64

	MiniMaxURL     string
	MiniMaxAPIKey  string
	MiniMaxModel   string
	MiniMaxVoiceID string
	MiniMaxSpeed   float64
	MiniMaxVol     float64
	MiniMaxPitch   int

	GoogleVoice string

	OutputDevice string
	DatabasePath string
	MetricsAddr  string
	// APIAddr enables the WebSocket/HTTP frontend API when non-empty.
	APIAddr string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	defaults := dispatch.DefaultTemplates()
	cfg := &Config{
		RoomID:         envInt64("BLIVETTS_ROOM_ID", 213),
		BridgeEndpoint: envStr("BLIVETTS_BRIDGE_ENDPOINT", "ws://127.0.0.1:7777/sub"),

		DanmakuOn:   envBool("BLIVETTS_DANMAKU_ON", false),
		GuardOn:     envBool("BLIVETTS_GUARD_ON", true),
		SuperChatOn: envBool("BLIVETTS_SUPER_CHAT_ON", true),
		FreeGiftOn:  envBool("BLIVETTS_FREE_GIFT_ON", false),

		GiftThresholdCNY: envFloat("BLIVETTS_GIFT_THRESHOLD", 5),

		MergeOn:        envBool("BLIVETTS_GIFT_MERGE_ON", true),
		MergeWindow:    envDuration("BLIVETTS_GIFT_MERGE_WINDOW", 2*time.Second),
		MergeIncrement: envDuration("BLIVETTS_GIFT_MERGE_INCREMENT", time.Second),
		MergeWindowMax: envDuration("BLIVETTS_GIFT_MERGE_WINDOW_MAX", 5*time.Second),

		Templates: dispatch.Templates{
			Danmaku:   envStr("BLIVETTS_DANMAKU_TEXT", defaults.Danmaku),
			Gift:      envStr("BLIVETTS_GIFT_TEXT", defaults.Gift),
			Guard:     envStr("BLIVETTS_GUARD_TEXT", defaults.Guard),
			SuperChat: envStr("BLIVETTS_SUPER_CHAT_TEXT", defaults.SuperChat),
		},
		Aliases: parseAliases(os.Getenv("BLIVETTS_ALIASES")),

		TTSBackend: envStr("BLIVETTS_TTS_BACKEND", "google"),

		FishSpeechURL: envStr("BLIVETTS_FISH_SPEECH_URL", "http://localhost:8080/v1/tts"),

		GPTSoVITSURL:             envStr("BLIVETTS_GPT_SOVITS_URL", "http://localhost:9880"),
		GPTSoVITSTextLang:        envStr("BLIVETTS_GPT_SOVITS_TEXT_LANG", "zh"),
		GPTSoVITSRefAudioPath:    os.Getenv("BLIVETTS_GPT_SOVITS_REF_AUDIO"),
		GPTSoVITSRefText:         os.Getenv("BLIVETTS_GPT_SOVITS_REF_TEXT"),
		GPTSoVITSRefTextLang:     envStr("BLIVETTS_GPT_SOVITS_REF_TEXT_LANG", "zh"),
		GPTSoVITSTopK:            int(envInt64("BLIVETTS_GPT_SOVITS_TOP_K", 5)),
		GPTSoVITSTopP:            envFloat("BLIVETTS_GPT_SOVITS_TOP_P", 1),
		GPTSoVITSTemperature:     envFloat("BLIVETTS_GPT_SOVITS_TEMPERATURE", 1),
		GPTSoVITSTextSplitMethod: envStr("BLIVETTS_GPT_SOVITS_TEXT_SPLIT", "cut5"),
		GPTSoVITSSpeedFactor:     envFloat("BLIVETTS_GPT_SOVITS_SPEED", 1),

		MiniMaxURL:     envStr("BLIVETTS_MINIMAX_URL", "https://api.minimaxi.chat/v1/t2a_v2"),
		MiniMaxAPIKey:  os.Getenv("BLIVETTS_MINIMAX_API_KEY"),
		MiniMaxModel:   envStr("BLIVETTS_MINIMAX_MODEL", "speech-01-turbo"),
		MiniMaxVoiceID: envStr("BLIVETTS_MINIMAX_VOICE_ID", "audiobook_male_1"),
		MiniMaxSpeed:   envFloat("BLIVETTS_MINIMAX_SPEED", 1.2),
		MiniMaxVol:     envFloat("BLIVETTS_MINIMAX_VOL", 1),
		MiniMaxPitch:   int(envInt64("BLIVETTS_MINIMAX_PITCH", 0)),

		GoogleVoice: envStr("BLIVETTS_GOOGLE_VOICE", "zh"),

		OutputDevice: envStr("BLIVETTS_OUTPUT_DEVICE", "default"),
		DatabasePath: envStr("BLIVETTS_DB_PATH", "blivetts.db"),
		MetricsAddr:  os.Getenv("BLIVETTS_METRICS_ADDR"),
		APIAddr:      os.Getenv("BLIVETTS_API_ADDR"),
	}

	if cfg.RoomID <= 0 {
		logger.Warn().
			Int64("room_id", cfg.RoomID).
			Msg("room id is not set, connection will fail until configured")
	}

	return cfg, nil
}

// parseAliases reads "spoken=replacement" pairs separated by commas, e.g.
// "Merlin=么林,brb=马上回来".
func parseAliases(raw string) map[string]string {
	aliases := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		aliases[key] = value
	}
	return aliases
}

func envStr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid bool, using default")
		return fallback
	}
	return parsed
}

func envInt64(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid integer, using default")
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid number, using default")
		return fallback
	}
	return parsed
}

// envDuration accepts either a Go duration string ("1500ms") or a bare
// number of seconds ("2", "2.5").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		return parsed
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	logger.Warn().Str("key", key).Str("value", v).Msg("invalid duration, using default")
	return fallback
}
