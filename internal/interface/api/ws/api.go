package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"bliveTTS/internal/domain"
	"bliveTTS/internal/infrastructure/persistence/sqlite"
)

// Controller is the slice of the runtime the API drives.
type Controller interface {
	Reload(roomID int64) error
	SetOutputDevice(deviceID string) error
	ListOutputDevices() ([]domain.OutputDevice, error)
	ListAliases(ctx context.Context) (map[string]string, error)
	SetAlias(ctx context.Context, from, to string) error
	DeleteAlias(ctx context.Context, from string) error
}

// HistoryReader serves persisted announcements.
type HistoryReader interface {
	RecentNotifications(ctx context.Context, limit int) ([]sqlite.NotificationRecord, error)
}

func registerAPI(mux *http.ServeMux, control Controller, history HistoryReader, snapshot func() map[string]any) {
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, snapshot())
	})

	if control != nil {
		mux.HandleFunc("/api/room", handleRoom(control))
		mux.HandleFunc("/api/devices", handleDevices(control))
		mux.HandleFunc("/api/device", handleDevice(control))
		mux.HandleFunc("/api/aliases", handleAliases(control))
	}
	if history != nil {
		mux.HandleFunc("/api/notifications", handleNotifications(history))
	}
}

func handleRoom(control Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req struct {
			RoomID int64 `json:"room_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID <= 0 {
			writeError(w, http.StatusBadRequest, "room_id must be a positive integer")
			return
		}

		if err := control.Reload(req.RoomID); err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"room_id": req.RoomID})
	}
}

func handleDevices(control Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		devices, err := control.ListOutputDevices()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, devices)
	}
}

func handleDevice(control Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		var req struct {
			DeviceID string `json:"device_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.DeviceID) == "" {
			writeError(w, http.StatusBadRequest, "device_id is required")
			return
		}

		if err := control.SetOutputDevice(req.DeviceID); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"device_id": req.DeviceID})
	}
}

func handleAliases(control Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			aliases, err := control.ListAliases(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, aliases)

		case http.MethodPut:
			var req struct {
				From string `json:"from"`
				To   string `json:"to"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.From) == "" || strings.TrimSpace(req.To) == "" {
				writeError(w, http.StatusBadRequest, "from and to are required")
				return
			}
			if err := control.SetAlias(r.Context(), req.From, req.To); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"from": req.From, "to": req.To})

		case http.MethodDelete:
			from := strings.TrimSpace(r.URL.Query().Get("from"))
			if from == "" {
				writeError(w, http.StatusBadRequest, "from is required")
				return
			}
			if err := control.DeleteAlias(r.Context(), from); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			w.WriteHeader(http.StatusNoContent)

		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	}
}

func handleNotifications(history HistoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		records, err := history.RecentNotifications(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		out := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			out = append(out, map[string]any{
				"id":         rec.ID,
				"type":       rec.Type,
				"username":   rec.Username,
				"text":       rec.Text,
				"gift_name":  rec.GiftName,
				"gift_num":   rec.GiftNum,
				"merged":     rec.Merged,
				"created_at": rec.CreatedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
