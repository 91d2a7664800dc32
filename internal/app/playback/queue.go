// Package playback serializes concurrent audio producers onto one output
// device. Producers enqueue raw audio bytes and return immediately; a single
// worker decodes and plays items in FIFO order.
package playback

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bliveTTS/internal/app/events"
	"bliveTTS/internal/domain"
	"bliveTTS/internal/logging"
	"bliveTTS/internal/metrics"
)

const defaultQueueCap = 256

// DecodeFunc turns container bytes (WAV or MP3) into playable PCM.
type DecodeFunc func(audio []byte) (domain.AudioClip, error)

type Item struct {
	ID    string
	Audio []byte
}

func NewItem(audio []byte) Item {
	return Item{ID: uuid.NewString(), Audio: audio}
}

type Config struct {
	Sink   domain.AudioSink
	Decode DecodeFunc
	Bus    *events.Bus
	// QueueCap is the soft bound; enqueues beyond it are dropped and counted.
	QueueCap int
}

type Queue struct {
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	items    []Item
	closed   bool
	running  bool
	deviceID string
	dropped  uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewQueue(cfg Config) *Queue {
	if cfg.QueueCap <= 0 {
		cfg.QueueCap = defaultQueueCap
	}
	q := &Queue{
		cfg:    cfg,
		logger: logging.ComponentLogger("playback"),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends without blocking. Items past the soft bound are dropped so
// a stalled device cannot grow memory without limit.
func (q *Queue) Enqueue(item Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if len(q.items) >= q.cfg.QueueCap {
		q.dropped++
		metrics.PlaybackDropped.Inc()
		if q.dropped%100 == 1 {
			q.logger.Warn().Uint64("total_drops", q.dropped).Msg("queue full, dropping item")
		}
		return false
	}
	q.items = append(q.items, item)
	metrics.QueueDepth.Set(float64(len(q.items)))
	q.cond.Signal()
	return true
}

// StartWorker spawns the single consumer. Starting while already running is a
// no-op.
func (q *Queue) StartWorker(ctx context.Context) {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.closed = false
	workerCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(workerCtx)
	}()
	// Wake the dequeue wait when the context ends. Tracked in the WaitGroup so
	// StopWorker cannot return while a watcher from this run could still flip
	// closed under a later run.
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		<-workerCtx.Done()
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.cond.Broadcast()
	}()
	q.logger.Info().Msg("playback worker started")
	q.publishStatus("idle", "", "")
}

// StopWorker cancels the consumer and discards everything still queued. The
// item being played may finish, no new item starts. Safe to call when the
// worker never ran.
func (q *Queue) StopWorker() {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.closed = true
	q.items = nil
	metrics.QueueDepth.Set(0)
	q.mu.Unlock()
	q.cond.Broadcast()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()

	q.mu.Lock()
	q.running = false
	q.mu.Unlock()
	q.logger.Info().Msg("playback worker stopped")
	q.publishStatus("stopped", "", "")
}

// SetOutputDevice swaps the device used from the next dequeued item on; an
// item already mid-playback is not interrupted.
func (q *Queue) SetOutputDevice(deviceID string) {
	q.mu.Lock()
	q.deviceID = deviceID
	q.mu.Unlock()
	q.logger.Info().Str("device", deviceID).Msg("output device set")
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) run(ctx context.Context) {
	for {
		item, device, ok := q.next(ctx)
		if !ok {
			return
		}
		q.publishStatus("playing", item.ID, "")
		if err := q.playItem(ctx, item, device); err != nil {
			if ctx.Err() != nil {
				return
			}
			// One bad buffer must never stall the queue.
			metrics.PlaybackFailures.Inc()
			q.logger.Error().Err(err).Str("item", item.ID).Msg("playback failed, skipping item")
			q.publishStatus("idle", "", err.Error())
			continue
		}
		q.publishStatus("idle", "", "")
	}
}

func (q *Queue) next(ctx context.Context) (Item, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed || ctx.Err() != nil {
			return Item{}, "", false
		}
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			metrics.QueueDepth.Set(float64(len(q.items)))
			return item, q.deviceID, true
		}
		q.cond.Wait()
	}
}

func (q *Queue) playItem(ctx context.Context, item Item, deviceID string) error {
	clip, err := q.cfg.Decode(item.Audio)
	if err != nil {
		return err
	}
	return q.cfg.Sink.Play(ctx, clip, deviceID)
}

func (q *Queue) publishStatus(state, currentID, lastError string) {
	if q.cfg.Bus == nil {
		return
	}
	q.cfg.Bus.Publish(events.TopicPlaybackStatus,
		events.NewPlaybackStatusDTO(state, q.Len(), currentID, lastError))
}
