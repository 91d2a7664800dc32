// Package notifications persists announcements so history survives restarts.
package notifications

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"bliveTTS/internal/app/events"
	"bliveTTS/internal/infrastructure/persistence/sqlite"
	"bliveTTS/internal/logging"
)

// HistoryWriter is the storage slice the recorder needs.
type HistoryWriter interface {
	SaveNotification(ctx context.Context, rec sqlite.NotificationRecord) error
}

// Recorder subscribes to the notification topic and writes each announcement
// to storage. Write failures are logged and skipped; history is best effort.
type Recorder struct {
	store  HistoryWriter
	bus    *events.Bus
	logger zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewRecorder(store HistoryWriter, bus *events.Bus) *Recorder {
	return &Recorder{
		store:  store,
		bus:    bus,
		logger: logging.ComponentLogger("notifications"),
	}
}

func (r *Recorder) Start(ctx context.Context) {
	if r.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	ch, unsubscribe := r.bus.Subscribe(events.TopicNotification)

	go func() {
		defer close(r.done)
		defer unsubscribe()
		for {
			select {
			case <-runCtx.Done():
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				r.record(runCtx, payload)
			}
		}
	}()
}

func (r *Recorder) Stop() {
	if r.done == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
	r.done = nil
}

func (r *Recorder) record(ctx context.Context, payload any) {
	dto, ok := payload.(events.NotificationDTO)
	if !ok {
		return
	}

	createdAt, err := time.Parse(time.RFC3339Nano, dto.Timestamp)
	if err != nil {
		createdAt = time.Now().UTC()
	}

	rec := sqlite.NotificationRecord{
		Type:      dto.Type,
		Username:  dto.Username,
		Text:      dto.Text,
		GiftName:  dto.GiftName,
		GiftNum:   dto.GiftNum,
		Merged:    dto.Merged,
		CreatedAt: createdAt,
	}
	if err := r.store.SaveNotification(ctx, rec); err != nil {
		r.logger.Warn().Err(err).Str("type", dto.Type).Msg("saving notification history")
	}
}
