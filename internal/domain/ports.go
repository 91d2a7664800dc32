package domain

import "context"

// EventHandler receives every event the room session delivers.
type EventHandler func(ctx context.Context, event LiveEvent)

// RoomSession is one logical connection to a live room. Connect blocks until
// the session ends or ctx is cancelled; Closed reports whether the underlying
// stream has reached a terminal state.
type RoomSession interface {
	Connect(ctx context.Context) error
	Close() error
	Closed() bool
}

// SessionDialer opens a session bound to a room; the handler is registered
// before any event can be delivered.
type SessionDialer interface {
	Dial(ctx context.Context, roomID int64, handler EventHandler) (RoomSession, error)
}

// Notifier consumes announcements emitted by the aggregation layer.
type Notifier interface {
	Notify(ctx context.Context, n NotificationEvent)
}

// Synthesizer turns display text into audio bytes (WAV or MP3, backend
// dependent). Network and HTTP failures surface as errors.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// AudioClip is decoded PCM ready for an output device.
type AudioClip struct {
	PCM         []byte
	SampleRate  int
	Channels    int
	SampleWidth int
}

type OutputDevice struct {
	ID   string
	Name string
}

// AudioSink writes PCM to a physical output device. Play blocks until the
// clip finished or ctx was cancelled.
type AudioSink interface {
	Play(ctx context.Context, clip AudioClip, deviceID string) error
	ListOutputDevices() ([]OutputDevice, error)
}

// SettingsRepository persists user-tweakable settings that survive restarts:
// the alias substitution map and scalar overrides (device, backend, toggles).
type SettingsRepository interface {
	GetSetting(ctx context.Context, key string) (string, bool, error)
	SetSetting(ctx context.Context, key, value string) error
	ListAliases(ctx context.Context) (map[string]string, error)
	SetAlias(ctx context.Context, from, to string) error
	DeleteAlias(ctx context.Context, from string) error
	Close() error
}
