package audio

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
	"github.com/rs/zerolog"

	"bliveTTS/internal/domain"
	"bliveTTS/internal/logging"
)

const defaultDeviceID = "default"

// Sink plays PCM through oto. The underlying audio context is process-wide
// and can be opened only once, so the sink opens it lazily with the first
// clip's format and keeps reusing it.
type Sink struct {
	logger zerolog.Logger

	mu         sync.Mutex
	otoCtx     *oto.Context
	sampleRate int
	channels   int
	width      int
}

func NewSink() *Sink {
	return &Sink{logger: logging.ComponentLogger("audio")}
}

func (s *Sink) Play(ctx context.Context, clip domain.AudioClip, deviceID string) error {
	if len(clip.PCM) == 0 {
		return fmt.Errorf("audio: empty clip")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	otoCtx, err := s.contextFor(clip)
	if err != nil {
		return err
	}
	if clip.SampleRate != s.sampleRate || clip.Channels != s.channels {
		s.logger.Warn().
			Int("clip_rate", clip.SampleRate).
			Int("device_rate", s.sampleRate).
			Msg("clip format differs from opened device, playback may be pitched")
	}
	if deviceID != "" && deviceID != defaultDeviceID {
		s.logger.Debug().
			Str("device", deviceID).
			Msg("per-device routing is not supported, using system default")
	}

	player := otoCtx.NewPlayer(bytes.NewReader(clip.PCM))
	player.Play()
	defer player.Close()

	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()

	for {
		if !player.IsPlaying() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Sink) contextFor(clip domain.AudioClip) (*oto.Context, error) {
	if s.otoCtx != nil {
		return s.otoCtx, nil
	}

	otoCtx, ready, err := oto.NewContext(clip.SampleRate, clip.Channels, clip.SampleWidth)
	if err != nil {
		return nil, fmt.Errorf("audio: oto context: %w", err)
	}
	<-ready

	s.otoCtx = otoCtx
	s.sampleRate = clip.SampleRate
	s.channels = clip.Channels
	s.width = clip.SampleWidth
	return otoCtx, nil
}

func (s *Sink) ListOutputDevices() ([]domain.OutputDevice, error) {
	// oto exposes no device enumeration, only the system default.
	return []domain.OutputDevice{
		{ID: defaultDeviceID, Name: "System default"},
	}, nil
}
