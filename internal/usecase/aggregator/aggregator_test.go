package aggregator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bliveTTS/internal/domain"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (c *captureNotifier) Notify(_ context.Context, n domain.NotificationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, n)
}

func (c *captureNotifier) all() []domain.NotificationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.NotificationEvent(nil), c.events...)
}

func newTestAggregator(cfg Config, notifier domain.Notifier) (*Aggregator, *time.Time) {
	a := New(cfg, notifier)
	now := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)
	clock := &now
	a.now = func() time.Time { return *clock }
	return a, clock
}

func mergeConfig() Config {
	return Config{
		DanmakuOn:       true,
		GuardOn:         true,
		SuperChatOn:     true,
		MergeOn:         true,
		InitialWindow:   2 * time.Second,
		WindowIncrement: 1 * time.Second,
		MaxWindow:       5 * time.Second,
	}
}

func gift(user, name string, num int, priceMilli int64) domain.GiftEvent {
	return domain.GiftEvent{
		Username:   user,
		GiftName:   name,
		Num:        num,
		PriceMilli: priceMilli,
	}
}

func TestGiftBurstFlushesOnce(t *testing.T) {
	sink := &captureNotifier{}
	a, clock := newTestAggregator(mergeConfig(), sink)
	ctx := context.Background()

	// Three rapid arrivals, well inside the initial window.
	a.Ingest(ctx, gift("A", "Rocket", 1, 100_000))
	*clock = clock.Add(100 * time.Millisecond)
	a.Ingest(ctx, gift("A", "Rocket", 2, 100_000))
	*clock = clock.Add(100 * time.Millisecond)
	a.Ingest(ctx, gift("A", "Rocket", 3, 100_000))

	// Nothing flushes while the window is open.
	a.flushExpired(ctx)
	assert.Empty(t, sink.all())

	// Window grew to 2s + 2×1s = 4s after the last arrival.
	*clock = clock.Add(3900 * time.Millisecond)
	a.flushExpired(ctx)
	assert.Empty(t, sink.all())

	*clock = clock.Add(100 * time.Millisecond)
	a.flushExpired(ctx)

	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, domain.NotificationGift, got[0].Type)
	assert.Equal(t, 6, got[0].GiftNum)
	assert.True(t, got[0].Merged)

	// Flushed groups are gone; a later tick must not re-announce.
	*clock = clock.Add(time.Minute)
	a.flushExpired(ctx)
	assert.Len(t, sink.all(), 1)
}

func TestFlushTimingMatchesGrownWindow(t *testing.T) {
	sink := &captureNotifier{}
	a, clock := newTestAggregator(mergeConfig(), sink)
	ctx := context.Background()
	start := *clock

	// t=0: 1×Rocket, window 2s. t=1: +2, window 3s. t=2.5: +3, window 4s.
	a.Ingest(ctx, gift("A", "Rocket", 1, 100_000))
	*clock = start.Add(1 * time.Second)
	a.Ingest(ctx, gift("A", "Rocket", 2, 100_000))
	*clock = start.Add(2500 * time.Millisecond)
	a.Ingest(ctx, gift("A", "Rocket", 3, 100_000))

	// Just before t=6.5 nothing flushes.
	*clock = start.Add(6400 * time.Millisecond)
	a.flushExpired(ctx)
	assert.Empty(t, sink.all())

	// At t=6.5 (2.5 + 4s window) the merged total comes out once.
	*clock = start.Add(6500 * time.Millisecond)
	a.flushExpired(ctx)
	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, 6, got[0].GiftNum)
}

func TestWindowNeverExceedsCeiling(t *testing.T) {
	sink := &captureNotifier{}
	a, clock := newTestAggregator(mergeConfig(), sink)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		a.Ingest(ctx, gift("A", "Rocket", 1, 100_000))
		*clock = clock.Add(10 * time.Millisecond)
	}

	a.mu.Lock()
	group := a.groups[groupKey{user: "A", gift: "Rocket"}]
	a.mu.Unlock()
	require.NotNil(t, group)
	assert.Equal(t, 5*time.Second, group.window)
	assert.Equal(t, 20, group.totalNum)
}

func TestIndependentKeysFlushIndependently(t *testing.T) {
	sink := &captureNotifier{}
	a, clock := newTestAggregator(mergeConfig(), sink)
	ctx := context.Background()

	a.Ingest(ctx, gift("A", "Rocket", 1, 100_000))
	*clock = clock.Add(1 * time.Second)
	a.Ingest(ctx, gift("B", "Rocket", 2, 100_000))
	a.Ingest(ctx, gift("A", "Heart", 3, 100_000))

	// A/Rocket expires 2s after t=0; the other two groups 2s after t=1.
	*clock = clock.Add(1 * time.Second)
	a.flushExpired(ctx)
	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Username)
	assert.Equal(t, "Rocket", got[0].GiftName)
	assert.Equal(t, 1, got[0].GiftNum)

	*clock = clock.Add(1 * time.Second)
	a.flushExpired(ctx)
	assert.Len(t, sink.all(), 3)
}

func TestMergeDisabledPassesThrough(t *testing.T) {
	cfg := mergeConfig()
	cfg.MergeOn = false
	sink := &captureNotifier{}
	a, _ := newTestAggregator(cfg, sink)
	ctx := context.Background()

	a.Ingest(ctx, gift("A", "Rocket", 1, 100_000))
	a.Ingest(ctx, gift("A", "Rocket", 2, 100_000))

	got := sink.all()
	require.Len(t, got, 2)
	assert.Equal(t, 1, got[0].GiftNum)
	assert.Equal(t, 2, got[1].GiftNum)
	assert.False(t, got[0].Merged)
}

func TestGiftFilters(t *testing.T) {
	cfg := mergeConfig()
	cfg.MergeOn = false
	cfg.GiftThresholdCNY = 5
	sink := &captureNotifier{}
	a, _ := newTestAggregator(cfg, sink)
	ctx := context.Background()

	// 0.1 CNY × 10 = 1 CNY, below threshold.
	a.Ingest(ctx, gift("A", "Heart", 10, 100))
	assert.Empty(t, sink.all())

	// Free gifts are dropped before the threshold check.
	free := gift("A", "Clap", 100, 0)
	free.IsFree = true
	a.Ingest(ctx, free)
	assert.Empty(t, sink.all())

	// 1 CNY × 10 = 10 CNY passes.
	a.Ingest(ctx, gift("A", "Rocket", 10, 1000))
	assert.Len(t, sink.all(), 1)
}

func TestCategoryToggles(t *testing.T) {
	cfg := mergeConfig()
	cfg.DanmakuOn = false
	cfg.GuardOn = false
	sink := &captureNotifier{}
	a, _ := newTestAggregator(cfg, sink)
	ctx := context.Background()

	a.Ingest(ctx, domain.DanmakuEvent{Username: "A", Text: "hi"})
	a.Ingest(ctx, domain.GuardBuyEvent{Username: "A", Level: domain.GuardCaptain})
	assert.Empty(t, sink.all())

	a.Ingest(ctx, domain.SuperChatEvent{Username: "A", Text: "hello", PriceMilli: 30_000_000})
	got := sink.all()
	require.Len(t, got, 1)
	assert.Equal(t, domain.NotificationSuperChat, got[0].Type)
}

func TestClearAllDropsWithoutFlushing(t *testing.T) {
	sink := &captureNotifier{}
	a, clock := newTestAggregator(mergeConfig(), sink)
	ctx := context.Background()

	a.Ingest(ctx, gift("A", "Rocket", 3, 100_000))
	a.Ingest(ctx, gift("B", "Rocket", 4, 100_000))
	a.ClearAll()

	*clock = clock.Add(time.Minute)
	a.flushExpired(ctx)
	assert.Empty(t, sink.all())
}

func TestStartStopIdempotent(t *testing.T) {
	sink := &captureNotifier{}
	cfg := mergeConfig()
	cfg.TickInterval = 10 * time.Millisecond
	a := New(cfg, sink)

	ctx := context.Background()
	a.Start(ctx)
	a.Start(ctx) // second start is a no-op
	a.Stop()
	a.Stop() // stop after stop is safe
}

func TestTickerFlushesInBackground(t *testing.T) {
	sink := &captureNotifier{}
	cfg := mergeConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.InitialWindow = 10 * time.Millisecond
	cfg.MaxWindow = 20 * time.Millisecond
	a := New(cfg, sink)

	ctx := context.Background()
	a.Start(ctx)
	defer a.Stop()

	a.Ingest(ctx, gift("A", "Rocket", 2, 100_000))

	require.Eventually(t, func() bool {
		return len(sink.all()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, sink.all()[0].GiftNum)
}
