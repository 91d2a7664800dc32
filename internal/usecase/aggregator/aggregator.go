// Package aggregator decides, per incoming live event, whether to announce it
// immediately or buffer it for merging. Bursts of identical gifts from one
// user collapse into a single notification once their debounce window
// elapses.
package aggregator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"bliveTTS/internal/domain"
	"bliveTTS/internal/logging"
	"bliveTTS/internal/metrics"
)

type Config struct {
	// Category toggles.
	DanmakuOn   bool
	GuardOn     bool
	SuperChatOn bool

	// FreeGiftOn lets silver-coin gifts through; off by default.
	FreeGiftOn bool
	// GiftThresholdCNY drops paid gift batches below this total value.
	GiftThresholdCNY float64

	MergeOn         bool
	InitialWindow   time.Duration
	WindowIncrement time.Duration
	MaxWindow       time.Duration

	// TickInterval drives the flush check; defaults to one second.
	TickInterval time.Duration
}

type groupKey struct {
	user string
	gift string
}

// giftGroup accumulates one user's repeated gift. The window grows with each
// accumulation so a sustained spree is not flushed mid-burst, and is capped
// so it still resolves.
type giftGroup struct {
	username   string
	giftName   string
	totalNum   int
	priceMilli int64
	isFree     bool
	firstSeen  time.Time
	lastUpdate time.Time
	window     time.Duration
}

type Aggregator struct {
	cfg      Config
	notifier domain.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	groups map[groupKey]*giftGroup

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg Config, notifier domain.Notifier) *Aggregator {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.MaxWindow < cfg.InitialWindow {
		cfg.MaxWindow = cfg.InitialWindow
	}
	return &Aggregator{
		cfg:      cfg,
		notifier: notifier,
		logger:   logging.ComponentLogger("aggregator"),
		now:      time.Now,
		groups:   make(map[groupKey]*giftGroup),
	}
}

// Start launches the periodic flush check. Calling it again while running is
// a no-op.
func (a *Aggregator) Start(ctx context.Context) {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return
	}
	tickCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.run(tickCtx, a.done)
	a.logger.Info().Dur("tick", a.cfg.TickInterval).Msg("flush check started")
}

// Stop cancels the flush check and drops all pending groups without
// flushing.
func (a *Aggregator) Stop() {
	a.runMu.Lock()
	cancel := a.cancel
	done := a.done
	a.cancel = nil
	a.done = nil
	a.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	a.ClearAll()
}

func (a *Aggregator) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.flushExpired(ctx)
		}
	}
}

// Ingest classifies one live event. Danmaku, guard purchases and super chats
// pass straight through their toggles; gifts go through the threshold filter
// and, when merging is on, the windowed-merge path.
func (a *Aggregator) Ingest(ctx context.Context, event domain.LiveEvent) {
	metrics.EventsIngested.WithLabelValues(string(event.Kind())).Inc()

	switch e := event.(type) {
	case domain.DanmakuEvent:
		if !a.cfg.DanmakuOn {
			metrics.EventsFiltered.WithLabelValues(string(event.Kind())).Inc()
			return
		}
		a.notify(ctx, domain.NotificationEvent{
			Type:      domain.NotificationDanmaku,
			Username:  e.Username,
			Text:      e.Text,
			Guard:     e.GuardLevel,
			CreatedAt: a.now(),
		})
	case domain.GuardBuyEvent:
		if !a.cfg.GuardOn {
			metrics.EventsFiltered.WithLabelValues(string(event.Kind())).Inc()
			return
		}
		a.notify(ctx, domain.NotificationEvent{
			Type:      domain.NotificationGuard,
			Username:  e.Username,
			Guard:     e.Level,
			CreatedAt: a.now(),
		})
	case domain.SuperChatEvent:
		if !a.cfg.SuperChatOn {
			metrics.EventsFiltered.WithLabelValues(string(event.Kind())).Inc()
			return
		}
		a.notify(ctx, domain.NotificationEvent{
			Type:      domain.NotificationSuperChat,
			Username:  e.Username,
			Text:      e.Text,
			CreatedAt: a.now(),
		})
	case domain.GiftEvent:
		a.ingestGift(ctx, e)
	default:
		a.logger.Warn().Str("kind", string(event.Kind())).Msg("unknown event kind ignored")
	}
}

func (a *Aggregator) ingestGift(ctx context.Context, e domain.GiftEvent) {
	if e.IsFree && !a.cfg.FreeGiftOn {
		metrics.EventsFiltered.WithLabelValues(string(e.Kind())).Inc()
		return
	}
	if e.TotalValueCNY() < a.cfg.GiftThresholdCNY {
		metrics.EventsFiltered.WithLabelValues(string(e.Kind())).Inc()
		return
	}

	if !a.cfg.MergeOn {
		a.notify(ctx, giftNotification(e.Username, e.GiftName, e.Num, false, a.now()))
		return
	}
	a.addToGroup(e)
}

func (a *Aggregator) addToGroup(e domain.GiftEvent) {
	key := groupKey{user: e.Username, gift: e.GiftName}
	now := a.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	group, ok := a.groups[key]
	if !ok {
		a.groups[key] = &giftGroup{
			username:   e.Username,
			giftName:   e.GiftName,
			totalNum:   e.Num,
			priceMilli: e.PriceMilli,
			isFree:     e.IsFree,
			firstSeen:  now,
			lastUpdate: now,
			window:     a.cfg.InitialWindow,
		}
		a.logger.Debug().
			Str("user", e.Username).Str("gift", e.GiftName).Int("num", e.Num).
			Dur("window", a.cfg.InitialWindow).
			Msg("gift group created")
		return
	}

	group.totalNum += e.Num
	group.lastUpdate = now
	group.window = min(group.window+a.cfg.WindowIncrement, a.cfg.MaxWindow)
	metrics.GiftsMerged.Inc()
	a.logger.Debug().
		Str("user", e.Username).Str("gift", e.GiftName).
		Int("total", group.totalNum).Dur("window", group.window).
		Msg("gift accumulated")
}

// flushExpired pops every group whose window elapsed and announces each as a
// single merged gift. Notification happens outside the table lock so a slow
// notifier cannot stall ingest.
func (a *Aggregator) flushExpired(ctx context.Context) {
	now := a.now()

	a.mu.Lock()
	var expired []*giftGroup
	for key, group := range a.groups {
		if now.Sub(group.lastUpdate) >= group.window {
			delete(a.groups, key)
			expired = append(expired, group)
		}
	}
	a.mu.Unlock()

	for _, group := range expired {
		metrics.GroupsFlushed.Inc()
		a.logger.Info().
			Str("user", group.username).Str("gift", group.giftName).
			Int("total", group.totalNum).
			Msg("gift group flushed")
		a.notify(ctx, giftNotification(group.username, group.giftName, group.totalNum, true, now))
	}
}

// ClearAll drops every pending group without flushing. Called on session
// teardown so a dead stream never produces late announcements.
func (a *Aggregator) ClearAll() {
	a.mu.Lock()
	n := len(a.groups)
	a.groups = make(map[groupKey]*giftGroup)
	a.mu.Unlock()
	if n > 0 {
		a.logger.Info().Int("groups", n).Msg("pending gift groups cleared")
	}
}

func (a *Aggregator) notify(ctx context.Context, n domain.NotificationEvent) {
	if a.notifier == nil {
		return
	}
	a.notifier.Notify(ctx, n)
}

func giftNotification(user, gift string, num int, merged bool, at time.Time) domain.NotificationEvent {
	return domain.NotificationEvent{
		Type:      domain.NotificationGift,
		Username:  user,
		GiftName:  gift,
		GiftNum:   num,
		Merged:    merged,
		CreatedAt: at,
	}
}
