package bili

import (
	"encoding/json"
	"fmt"
	"time"

	"bliveTTS/internal/domain"
)

// frame is one bridge message: the room command name plus its flattened
// payload.
type frame struct {
	Cmd  string          `json:"cmd"`
	Data json.RawMessage `json:"data"`
}

type danmakuPayload struct {
	UID        int64  `json:"uid"`
	Uname      string `json:"uname"`
	Msg        string `json:"msg"`
	GuardLevel int    `json:"guard_level"`
	MedalName  string `json:"medal_name"`
	MedalLevel int    `json:"medal_level"`
	Timestamp  int64  `json:"timestamp"`
}

type giftPayload struct {
	UID       int64  `json:"uid"`
	Uname     string `json:"uname"`
	GiftName  string `json:"gift_name"`
	Num       int    `json:"num"`
	Price     int64  `json:"price"`
	CoinType  string `json:"coin_type"`
	Timestamp int64  `json:"timestamp"`
}

type guardBuyPayload struct {
	UID        int64  `json:"uid"`
	Username   string `json:"username"`
	GuardLevel int    `json:"guard_level"`
	Num        int    `json:"num"`
	Price      int64  `json:"price"`
	Timestamp  int64  `json:"timestamp"`
}

type superChatPayload struct {
	UID       int64  `json:"uid"`
	Uname     string `json:"uname"`
	Message   string `json:"message"`
	Price     int64  `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// parseFrame maps a bridge frame onto a LiveEvent. Unknown commands return
// (nil, nil): the room emits many event kinds this pipeline does not
// announce, and they are silently skipped.
func parseFrame(payload []byte) (domain.LiveEvent, error) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("frame: %w", err)
	}

	switch domain.EventKind(f.Cmd) {
	case domain.EventDanmaku:
		var p danmakuPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("danmaku payload: %w", err)
		}
		return domain.DanmakuEvent{
			UserID:     p.UID,
			Username:   p.Uname,
			Text:       p.Msg,
			GuardLevel: domain.GuardLevel(p.GuardLevel),
			MedalName:  p.MedalName,
			MedalLevel: p.MedalLevel,
			Timestamp:  msTime(p.Timestamp),
		}, nil
	case domain.EventGift:
		var p giftPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("gift payload: %w", err)
		}
		return domain.GiftEvent{
			UserID:     p.UID,
			Username:   p.Uname,
			GiftName:   p.GiftName,
			Num:        p.Num,
			PriceMilli: p.Price,
			IsFree:     p.CoinType == "silver",
			Timestamp:  msTime(p.Timestamp),
		}, nil
	case domain.EventGuardBuy:
		var p guardBuyPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("guard payload: %w", err)
		}
		return domain.GuardBuyEvent{
			UserID:     p.UID,
			Username:   p.Username,
			Level:      domain.GuardLevel(p.GuardLevel),
			Num:        p.Num,
			PriceMilli: p.Price,
			Timestamp:  msTime(p.Timestamp),
		}, nil
	case domain.EventSuperChat:
		var p superChatPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			return nil, fmt.Errorf("super chat payload: %w", err)
		}
		return domain.SuperChatEvent{
			UserID:   p.UID,
			Username: p.Uname,
			Text:     p.Message,
			// Super chat prices come in whole CNY.
			PriceMilli: p.Price * 1000,
			Timestamp:  msTime(p.Timestamp),
		}, nil
	default:
		return nil, nil
	}
}

func msTime(ms int64) time.Time {
	if ms == 0 {
		return time.Now()
	}
	// Some commands report seconds, not milliseconds.
	if ms < 1e12 {
		return time.Unix(ms, 0)
	}
	return time.UnixMilli(ms)
}
