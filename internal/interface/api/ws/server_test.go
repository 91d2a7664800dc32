package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bliveTTS/internal/app/events"
	"bliveTTS/internal/domain"
	"bliveTTS/internal/infrastructure/persistence/sqlite"
)

type fakeControl struct {
	reloadedRoom int64
	reloadErr    error
	device       string
	aliases      map[string]string
}

func newFakeControl() *fakeControl {
	return &fakeControl{aliases: map[string]string{}}
}

func (f *fakeControl) Reload(roomID int64) error {
	if f.reloadErr != nil {
		return f.reloadErr
	}
	f.reloadedRoom = roomID
	return nil
}

func (f *fakeControl) SetOutputDevice(deviceID string) error {
	f.device = deviceID
	return nil
}

func (f *fakeControl) ListOutputDevices() ([]domain.OutputDevice, error) {
	return []domain.OutputDevice{{ID: "default", Name: "System default"}}, nil
}

func (f *fakeControl) ListAliases(context.Context) (map[string]string, error) {
	return f.aliases, nil
}

func (f *fakeControl) SetAlias(_ context.Context, from, to string) error {
	f.aliases[from] = to
	return nil
}

func (f *fakeControl) DeleteAlias(_ context.Context, from string) error {
	delete(f.aliases, from)
	return nil
}

type fakeHistory struct {
	records []sqlite.NotificationRecord
}

func (f *fakeHistory) RecentNotifications(_ context.Context, limit int) ([]sqlite.NotificationRecord, error) {
	if limit > len(f.records) {
		limit = len(f.records)
	}
	return f.records[:limit], nil
}

func startServer(t *testing.T, cfg Config) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := httptest.NewServer(NewServer(cfg).Handler(ctx))
	t.Cleanup(srv.Close)
	return srv
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var envelope Envelope
	require.NoError(t, conn.ReadJSON(&envelope))
	return envelope
}

func TestWSStreamsBusEvents(t *testing.T) {
	bus := events.NewBus()
	srv := startServer(t, Config{Bus: bus})
	conn := dialWS(t, srv)

	// Connected clients get publishes after subscription; give the pump a tick.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(events.TopicNotification, events.NotificationDTO{
		Type: "danmaku",
		Text: `"观众甲"说:"前排"`,
	})

	envelope := readEnvelope(t, conn)
	assert.Equal(t, events.TopicNotification, envelope.Topic)

	data, err := json.Marshal(envelope.Data)
	require.NoError(t, err)
	var dto events.NotificationDTO
	require.NoError(t, json.Unmarshal(data, &dto))
	assert.Equal(t, "danmaku", dto.Type)
	assert.Equal(t, `"观众甲"说:"前排"`, dto.Text)
}

func TestWSReplaysLastStatusOnConnect(t *testing.T) {
	bus := events.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	server := NewServer(Config{Bus: bus})
	srv := httptest.NewServer(server.Handler(ctx))
	t.Cleanup(srv.Close)

	bus.Publish(events.TopicConnectionStatus, events.NewConnectionStatusDTO("connected", 213, nil))
	require.Eventually(t, func() bool {
		return len(server.Snapshot()) == 1
	}, time.Second, 10*time.Millisecond)

	conn := dialWS(t, srv)
	envelope := readEnvelope(t, conn)
	assert.Equal(t, events.TopicConnectionStatus, envelope.Topic)
}

func TestAPIRoomReload(t *testing.T) {
	control := newFakeControl()
	srv := startServer(t, Config{Bus: events.NewBus(), Control: control})

	resp, err := http.Post(srv.URL+"/api/room", "application/json", strings.NewReader(`{"room_id": 92613}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(92613), control.reloadedRoom)

	resp, err = http.Post(srv.URL+"/api/room", "application/json", strings.NewReader(`{"room_id": -1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIAliasesCRUD(t *testing.T) {
	control := newFakeControl()
	srv := startServer(t, Config{Bus: events.NewBus(), Control: control})
	client := srv.Client()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/aliases", strings.NewReader(`{"from":"Merlin","to":"么林"}`))
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "么林", control.aliases["Merlin"])

	resp, err = client.Get(srv.URL + "/api/aliases")
	require.NoError(t, err)
	var aliases map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&aliases))
	resp.Body.Close()
	assert.Equal(t, map[string]string{"Merlin": "么林"}, aliases)

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/api/aliases?from=Merlin", nil)
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, control.aliases)
}

func TestAPIDevices(t *testing.T) {
	control := newFakeControl()
	srv := startServer(t, Config{Bus: events.NewBus(), Control: control})

	resp, err := http.Get(srv.URL + "/api/devices")
	require.NoError(t, err)
	var devices []domain.OutputDevice
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&devices))
	resp.Body.Close()
	require.Len(t, devices, 1)
	assert.Equal(t, "default", devices[0].ID)

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/device", strings.NewReader(`{"device_id":"card2"}`))
	resp, err = srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "card2", control.device)
}

func TestAPINotifications(t *testing.T) {
	history := &fakeHistory{records: []sqlite.NotificationRecord{
		{ID: 2, Type: "gift", Username: "观众乙", Text: "x", GiftName: "小心心", GiftNum: 6, Merged: true},
		{ID: 1, Type: "danmaku", Username: "观众甲", Text: "y"},
	}}
	srv := startServer(t, Config{Bus: events.NewBus(), History: history})

	resp, err := http.Get(srv.URL + "/api/notifications?limit=1")
	require.NoError(t, err)
	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()

	require.Len(t, out, 1)
	assert.Equal(t, "gift", out[0]["type"])
	assert.Equal(t, float64(6), out[0]["gift_num"])

	resp, err = http.Get(srv.URL + "/api/notifications?limit=zero")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
