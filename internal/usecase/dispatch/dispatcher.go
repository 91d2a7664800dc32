// Package dispatch turns notifications into speech: format display text,
// synthesize it, hand the audio to the playback queue.
package dispatch

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"bliveTTS/internal/app/events"
	"bliveTTS/internal/app/playback"
	"bliveTTS/internal/domain"
	"bliveTTS/internal/logging"
	"bliveTTS/internal/metrics"
)

// connRefusedAttempts is the per-call retry budget for backends that refuse
// connections while their model is still loading.
const connRefusedAttempts = 3

// Templates hold the announcement text per category, with {placeholder}
// fields substituted from the event.
type Templates struct {
	Danmaku   string
	Gift      string
	Guard     string
	SuperChat string
}

func DefaultTemplates() Templates {
	return Templates{
		Danmaku:   `"{user_name}"说:"{message}"`,
		Gift:      `"{user_name}" 赠送了{gift_num}个{gift_name}`,
		Guard:     `感谢 "{user_name}" 赠送的{guard_name}，祝你熬夜不秃头，瞎吃不长胖！`,
		SuperChat: `"{user_name}" 发送了一条醒目留言，他说"{message}"`,
	}
}

type Config struct {
	Synthesizer domain.Synthesizer
	Queue       *playback.Queue
	Bus         *events.Bus
	Templates   Templates
}

type Dispatcher struct {
	cfg    Config
	logger zerolog.Logger

	aliasMu sync.RWMutex
	alias   map[string]string

	wg sync.WaitGroup
}

func New(cfg Config) *Dispatcher {
	if cfg.Templates == (Templates{}) {
		cfg.Templates = DefaultTemplates()
	}
	return &Dispatcher{
		cfg:    cfg,
		logger: logging.ComponentLogger("dispatch"),
	}
}

// SetAliases replaces the pronunciation substitution map.
func (d *Dispatcher) SetAliases(alias map[string]string) {
	copied := make(map[string]string, len(alias))
	for k, v := range alias {
		copied[k] = v
	}
	d.aliasMu.Lock()
	d.alias = copied
	d.aliasMu.Unlock()
}

// Notify implements domain.Notifier. The synthesis round-trip runs in its own
// goroutine so a slow backend never stalls the aggregation path.
func (d *Dispatcher) Notify(ctx context.Context, n domain.NotificationEvent) {
	text := d.FormatText(n)
	if text == "" {
		return
	}
	if d.cfg.Bus != nil {
		d.cfg.Bus.Publish(events.TopicNotification, events.NewNotificationDTO(n, text))
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.speak(ctx, text)
	}()
}

// Wait blocks until all in-flight synthesis goroutines finished. Used on
// shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) speak(ctx context.Context, text string) {
	audio, err := d.synthesizeWithRetry(ctx, text)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		metrics.SynthesisFailures.Inc()
		d.logger.Error().Err(err).Str("text", text).Msg("synthesis failed, dropping announcement")
		if d.cfg.Bus != nil {
			d.cfg.Bus.Publish(events.TopicAppError, map[string]any{
				"source": "tts",
				"error":  err.Error(),
			})
		}
		return
	}
	if d.cfg.Queue != nil {
		d.cfg.Queue.Enqueue(playback.NewItem(audio))
	}
}

// synthesizeWithRetry retries only on connection-refused; every other error
// is final.
func (d *Dispatcher) synthesizeWithRetry(ctx context.Context, text string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= connRefusedAttempts; attempt++ {
		audio, err := d.cfg.Synthesizer.Synthesize(ctx, text)
		if err == nil {
			return audio, nil
		}
		lastErr = err
		if !errors.Is(err, syscall.ECONNREFUSED) {
			break
		}
		d.logger.Warn().Err(err).Int("attempt", attempt).Msg("tts connection refused, retrying")
	}
	return nil, lastErr
}

// FormatText renders the category template and applies the alias map.
func (d *Dispatcher) FormatText(n domain.NotificationEvent) string {
	var text string
	switch n.Type {
	case domain.NotificationDanmaku:
		text = replacePlaceholders(d.cfg.Templates.Danmaku, map[string]string{
			"user_name": n.Username,
			"message":   n.Text,
		})
	case domain.NotificationGift:
		text = replacePlaceholders(d.cfg.Templates.Gift, map[string]string{
			"user_name": n.Username,
			"gift_name": n.GiftName,
			"gift_num":  strconv.Itoa(n.GiftNum),
		})
	case domain.NotificationGuard:
		text = replacePlaceholders(d.cfg.Templates.Guard, map[string]string{
			"user_name":  n.Username,
			"guard_name": n.Guard.String(),
		})
	case domain.NotificationSuperChat:
		text = replacePlaceholders(d.cfg.Templates.SuperChat, map[string]string{
			"user_name": n.Username,
			"message":   n.Text,
		})
	default:
		return ""
	}
	return d.applyAliases(text)
}

// applyAliases rewrites words the TTS backends mispronounce. Matching is
// case-insensitive, so the whole text is lowercased first.
func (d *Dispatcher) applyAliases(text string) string {
	d.aliasMu.RLock()
	alias := d.alias
	d.aliasMu.RUnlock()
	if len(alias) == 0 {
		return text
	}
	text = strings.ToLower(text)
	for from, to := range alias {
		text = strings.ReplaceAll(text, strings.ToLower(from), to)
	}
	return text
}

func replacePlaceholders(template string, fields map[string]string) string {
	pairs := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

