package domain

import "time"

type EventKind string

const (
	EventDanmaku   EventKind = "DANMU_MSG"
	EventGift      EventKind = "SEND_GIFT"
	EventGuardBuy  EventKind = "GUARD_BUY"
	EventSuperChat EventKind = "SUPER_CHAT_MESSAGE"
)

// GuardLevel is the fleet tier attached to guard purchases and chat badges.
type GuardLevel int

const (
	GuardNone GuardLevel = iota
	GuardGovernor
	GuardLieutenant
	GuardCaptain
)

func (g GuardLevel) String() string {
	switch g {
	case GuardGovernor:
		return "总督"
	case GuardLieutenant:
		return "提督"
	case GuardCaptain:
		return "舰长"
	default:
		return "非舰长"
	}
}

// LiveEvent is one incoming notification from the live room. Concrete types
// are DanmakuEvent, GiftEvent, GuardBuyEvent and SuperChatEvent; consumers
// switch on Kind or on the concrete type.
type LiveEvent interface {
	Kind() EventKind
	User() string
	At() time.Time
}

type DanmakuEvent struct {
	UserID     int64
	Username   string
	Text       string
	GuardLevel GuardLevel
	MedalName  string
	MedalLevel int
	Timestamp  time.Time
}

func (e DanmakuEvent) Kind() EventKind { return EventDanmaku }
func (e DanmakuEvent) User() string    { return e.Username }
func (e DanmakuEvent) At() time.Time   { return e.Timestamp }

type GiftEvent struct {
	UserID   int64
	Username string
	GiftName string
	Num      int
	// PriceMilli is the unit price in milli-CNY, as reported by the room.
	PriceMilli int64
	// IsFree marks silver-coin gifts.
	IsFree    bool
	Timestamp time.Time
}

func (e GiftEvent) Kind() EventKind { return EventGift }
func (e GiftEvent) User() string    { return e.Username }
func (e GiftEvent) At() time.Time   { return e.Timestamp }

// TotalValueCNY is the gift batch value in CNY.
func (e GiftEvent) TotalValueCNY() float64 {
	return float64(e.PriceMilli) / 1000 * float64(e.Num)
}

type GuardBuyEvent struct {
	UserID     int64
	Username   string
	Level      GuardLevel
	Num        int
	PriceMilli int64
	Timestamp  time.Time
}

func (e GuardBuyEvent) Kind() EventKind { return EventGuardBuy }
func (e GuardBuyEvent) User() string    { return e.Username }
func (e GuardBuyEvent) At() time.Time   { return e.Timestamp }

type SuperChatEvent struct {
	UserID     int64
	Username   string
	Text       string
	PriceMilli int64
	Timestamp  time.Time
}

func (e SuperChatEvent) Kind() EventKind { return EventSuperChat }
func (e SuperChatEvent) User() string    { return e.Username }
func (e SuperChatEvent) At() time.Time   { return e.Timestamp }
