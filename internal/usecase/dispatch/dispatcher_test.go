package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bliveTTS/internal/app/events"
	"bliveTTS/internal/app/playback"
	"bliveTTS/internal/domain"
)

type fakeSynth struct {
	mu    sync.Mutex
	texts []string
	// errs are returned in order before synthesis starts succeeding.
	errs []error
}

func (s *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	return []byte("audio:" + text), nil
}

func (s *fakeSynth) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

type nullSink struct{}

func (nullSink) Play(context.Context, domain.AudioClip, string) error { return nil }
func (nullSink) ListOutputDevices() ([]domain.OutputDevice, error)    { return nil, nil }

func newTestDispatcher(synth domain.Synthesizer) (*Dispatcher, *playback.Queue) {
	q := playback.NewQueue(playback.Config{
		Sink: nullSink{},
		Decode: func(audio []byte) (domain.AudioClip, error) {
			return domain.AudioClip{PCM: audio}, nil
		},
	})
	d := New(Config{Synthesizer: synth, Queue: q})
	return d, q
}

func TestFormatText(t *testing.T) {
	d := New(Config{})

	tests := []struct {
		name string
		n    domain.NotificationEvent
		want string
	}{
		{
			name: "danmaku",
			n:    domain.NotificationEvent{Type: domain.NotificationDanmaku, Username: "小明", Text: "你好"},
			want: `"小明"说:"你好"`,
		},
		{
			name: "gift",
			n:    domain.NotificationEvent{Type: domain.NotificationGift, Username: "小明", GiftName: "火箭", GiftNum: 6},
			want: `"小明" 赠送了6个火箭`,
		},
		{
			name: "guard",
			n:    domain.NotificationEvent{Type: domain.NotificationGuard, Username: "小明", Guard: domain.GuardCaptain},
			want: `感谢 "小明" 赠送的舰长，祝你熬夜不秃头，瞎吃不长胖！`,
		},
		{
			name: "super chat",
			n:    domain.NotificationEvent{Type: domain.NotificationSuperChat, Username: "小明", Text: "加油"},
			want: `"小明" 发送了一条醒目留言，他说"加油"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, d.FormatText(tt.n))
		})
	}
}

func TestAliasSubstitutionIsCaseInsensitive(t *testing.T) {
	d := New(Config{Templates: Templates{Danmaku: "{user_name}: {message}"}})
	d.SetAliases(map[string]string{"Merlin": "么林"})

	got := d.FormatText(domain.NotificationEvent{
		Type:     domain.NotificationDanmaku,
		Username: "someone",
		Text:     "MERLIN nice",
	})
	assert.Equal(t, "someone: 么林 nice", got)
}

func TestRetriesOnConnectionRefused(t *testing.T) {
	refused := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	synth := &fakeSynth{errs: []error{refused, refused}}
	d, q := newTestDispatcher(synth)

	d.Notify(context.Background(), domain.NotificationEvent{
		Type:     domain.NotificationDanmaku,
		Username: "A",
		Text:     "hi",
	})
	d.Wait()

	assert.Len(t, synth.calls(), 3)
	assert.Equal(t, 1, q.Len())
}

func TestNoRetryOnOtherErrors(t *testing.T) {
	synth := &fakeSynth{errs: []error{errors.New("http 500")}}
	d, q := newTestDispatcher(synth)

	d.Notify(context.Background(), domain.NotificationEvent{
		Type:     domain.NotificationDanmaku,
		Username: "A",
		Text:     "hi",
	})
	d.Wait()

	assert.Len(t, synth.calls(), 1)
	assert.Equal(t, 0, q.Len(), "failed synthesis must be dropped, not enqueued")
}

func TestExhaustedRetriesDropTheItem(t *testing.T) {
	refused := fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	synth := &fakeSynth{errs: []error{refused, refused, refused}}
	d, q := newTestDispatcher(synth)

	d.Notify(context.Background(), domain.NotificationEvent{
		Type:     domain.NotificationDanmaku,
		Username: "A",
		Text:     "hi",
	})
	d.Wait()

	assert.Len(t, synth.calls(), 3)
	assert.Equal(t, 0, q.Len())
}

func TestNotifyPublishesAndEnqueues(t *testing.T) {
	synth := &fakeSynth{}
	bus := events.NewBus()
	q := playback.NewQueue(playback.Config{
		Sink: nullSink{},
		Decode: func(audio []byte) (domain.AudioClip, error) {
			return domain.AudioClip{PCM: audio}, nil
		},
	})
	d := New(Config{Synthesizer: synth, Queue: q, Bus: bus})

	sub, unsubscribe := bus.Subscribe(events.TopicNotification)
	defer unsubscribe()

	d.Notify(context.Background(), domain.NotificationEvent{
		Type:     domain.NotificationGift,
		Username: "A",
		GiftName: "火箭",
		GiftNum:  3,
		Merged:   true,
	})
	d.Wait()

	select {
	case payload := <-sub:
		dto, ok := payload.(events.NotificationDTO)
		require.True(t, ok)
		assert.Equal(t, "gift", dto.Type)
		assert.True(t, dto.Merged)
		assert.Equal(t, `"A" 赠送了3个火箭`, dto.Text)
	case <-time.After(time.Second):
		t.Fatal("notification DTO never published")
	}
	assert.Equal(t, 1, q.Len())
}
