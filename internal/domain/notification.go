package domain

import "time"

type NotificationType string

const (
	NotificationDanmaku   NotificationType = "danmaku"
	NotificationGift      NotificationType = "gift"
	NotificationGuard     NotificationType = "guard"
	NotificationSuperChat NotificationType = "super_chat"
)

// NotificationEvent is one spoken announcement: an event (or a merged burst of
// gift events) that passed filtering and is ready for text formatting.
type NotificationEvent struct {
	Type     NotificationType
	Username string
	Text     string
	GiftName string
	GiftNum  int
	Guard    GuardLevel
	// Merged is set on gift notifications produced by the aggregation window.
	Merged    bool
	CreatedAt time.Time
}
