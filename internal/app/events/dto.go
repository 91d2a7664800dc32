package events

import (
	"time"

	"bliveTTS/internal/domain"
)

// NotificationDTO is the serializable shape a frontend receives for every
// announcement that made it through filtering and merging.
type NotificationDTO struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	GiftName  string `json:"gift_name,omitempty"`
	GiftNum   int    `json:"gift_num,omitempty"`
	Merged    bool   `json:"merged,omitempty"`
	Timestamp string `json:"timestamp"`
}

func NewNotificationDTO(n domain.NotificationEvent, displayText string) NotificationDTO {
	return NotificationDTO{
		Type:      string(n.Type),
		Username:  n.Username,
		Text:      displayText,
		GiftName:  n.GiftName,
		GiftNum:   n.GiftNum,
		Merged:    n.Merged,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

type ConnectionStatusDTO struct {
	State     string `json:"state"`
	RoomID    int64  `json:"room_id,omitempty"`
	Error     string `json:"error,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

func NewConnectionStatusDTO(state string, roomID int64, err error) ConnectionStatusDTO {
	dto := ConnectionStatusDTO{
		State:     state,
		RoomID:    roomID,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if err != nil {
		dto.Error = err.Error()
	}
	return dto
}

type PlaybackStatusDTO struct {
	State       string `json:"state"`
	QueueLength int    `json:"queue_length"`
	CurrentID   string `json:"current_id,omitempty"`
	LastError   string `json:"last_error,omitempty"`
	UpdatedAt   string `json:"updated_at"`
}

func NewPlaybackStatusDTO(state string, queueLength int, currentID, lastError string) PlaybackStatusDTO {
	return PlaybackStatusDTO{
		State:       state,
		QueueLength: queueLength,
		CurrentID:   currentID,
		LastError:   lastError,
		UpdatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}
}
