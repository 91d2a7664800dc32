// Package runtime assembles the application: config, persistence, the event
// pipeline and the audio path, with ordered startup and shutdown.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"bliveTTS/internal/app/events"
	"bliveTTS/internal/app/playback"
	"bliveTTS/internal/domain"
	"bliveTTS/internal/infrastructure/audio"
	"bliveTTS/internal/infrastructure/bili"
	"bliveTTS/internal/infrastructure/config"
	sqlitestorage "bliveTTS/internal/infrastructure/persistence/sqlite"
	"bliveTTS/internal/infrastructure/tts"
	"bliveTTS/internal/interface/api/ws"
	"bliveTTS/internal/logging"
	"bliveTTS/internal/usecase/aggregator"
	"bliveTTS/internal/usecase/dispatch"
	"bliveTTS/internal/usecase/notifications"
)

// Settings keys the store may override on top of the environment.
const (
	settingRoomID       = "room_id"
	settingTTSBackend   = "tts_backend"
	settingOutputDevice = "output_device"
)

type Options struct{}

type Runtime struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger zerolog.Logger

	cfg        *config.Config
	store      *sqlitestorage.SettingsStore
	bus        *events.Bus
	sink       *audio.Sink
	queue      *playback.Queue
	dispatcher *dispatch.Dispatcher
	aggregator *aggregator.Aggregator
	supervisor *bili.Supervisor
	recorder   *notifications.Recorder

	metricsSrv *http.Server
}

// Start builds every component and brings the pipeline up: playback worker
// first, then aggregation, then the room connection. An initial connect
// failure tears everything back down and surfaces to the caller.
func Start(ctx context.Context, _ Options) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runtimeCtx, cancel := context.WithCancel(ctx)
	logger := logging.ComponentLogger("runtime")

	cfg, err := config.Load()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := sqlitestorage.NewSettingsStore(cfg.DatabasePath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("sqlite: %w", err)
	}

	if err := applyStoredSettings(runtimeCtx, store, cfg); err != nil {
		logger.Warn().Err(err).Msg("stored settings unavailable, using environment only")
	}

	synth, err := tts.New(synthOptions(cfg))
	if err != nil {
		cancel()
		store.Close()
		return nil, fmt.Errorf("tts: %w", err)
	}

	bus := events.NewBus()
	sink := audio.NewSink()

	queue := playback.NewQueue(playback.Config{
		Sink:   sink,
		Decode: audio.Decode,
		Bus:    bus,
	})
	queue.SetOutputDevice(cfg.OutputDevice)

	dispatcher := dispatch.New(dispatch.Config{
		Synthesizer: synth,
		Queue:       queue,
		Bus:         bus,
		Templates:   cfg.Templates,
	})
	dispatcher.SetAliases(mergedAliases(runtimeCtx, store, cfg, logger))

	agg := aggregator.New(aggregator.Config{
		DanmakuOn:        cfg.DanmakuOn,
		GuardOn:          cfg.GuardOn,
		SuperChatOn:      cfg.SuperChatOn,
		FreeGiftOn:       cfg.FreeGiftOn,
		GiftThresholdCNY: cfg.GiftThresholdCNY,
		MergeOn:          cfg.MergeOn,
		InitialWindow:    cfg.MergeWindow,
		WindowIncrement:  cfg.MergeIncrement,
		MaxWindow:        cfg.MergeWindowMax,
	}, dispatcher)

	supervisor := bili.NewSupervisor(bili.SupervisorConfig{
		Dialer:     bili.NewWSDialer(bili.DialerConfig{Endpoint: cfg.BridgeEndpoint}),
		Handler:    agg.Ingest,
		OnTeardown: agg.ClearAll,
		Bus:        bus,
	})

	run := &Runtime{
		ctx:        runtimeCtx,
		cancel:     cancel,
		logger:     logger,
		cfg:        cfg,
		store:      store,
		bus:        bus,
		sink:       sink,
		queue:      queue,
		dispatcher: dispatcher,
		aggregator: agg,
		supervisor: supervisor,
		recorder:   notifications.NewRecorder(store, bus),
	}

	queue.StartWorker(runtimeCtx)
	agg.Start(runtimeCtx)
	run.recorder.Start(runtimeCtx)

	if err := supervisor.Start(runtimeCtx, cfg.RoomID); err != nil {
		run.Stop()
		return nil, fmt.Errorf("connect room %d: %w", cfg.RoomID, err)
	}

	run.startMetrics()
	run.startAPI()

	logger.Info().
		Int64("room_id", cfg.RoomID).
		Str("tts_backend", cfg.TTSBackend).
		Msg("pipeline started")

	return run, nil
}

// Stop tears the pipeline down upstream first so nothing new enters while
// the tail drains: connection, then aggregation, then in-flight synthesis,
// then the playback queue.
func (r *Runtime) Stop() {
	r.supervisor.Stop()
	r.aggregator.Stop()
	r.dispatcher.Wait()
	r.queue.StopWorker()
	r.recorder.Stop()

	if r.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := r.metricsSrv.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn().Err(err).Msg("metrics server shutdown")
		}
		cancel()
	}

	if err := r.store.Close(); err != nil {
		r.logger.Warn().Err(err).Msg("closing settings store")
	}

	r.cancel()
	r.logger.Info().Msg("pipeline stopped")
}

// Reload switches to a different room. Events from the old session never
// reach the pipeline once this returns.
func (r *Runtime) Reload(roomID int64) error {
	if err := r.supervisor.Reload(r.ctx, roomID); err != nil {
		return err
	}
	r.cfg.RoomID = roomID
	if err := r.store.SetSetting(r.ctx, settingRoomID, strconv.FormatInt(roomID, 10)); err != nil {
		r.logger.Warn().Err(err).Msg("persisting room id")
	}
	return nil
}

// SetOutputDevice reroutes playback starting from the next queued clip.
func (r *Runtime) SetOutputDevice(deviceID string) error {
	r.queue.SetOutputDevice(deviceID)
	r.cfg.OutputDevice = deviceID
	if err := r.store.SetSetting(r.ctx, settingOutputDevice, deviceID); err != nil {
		return fmt.Errorf("persisting output device: %w", err)
	}
	return nil
}

// Bus exposes the in-process event stream for frontends.
func (r *Runtime) Bus() *events.Bus {
	return r.bus
}

func (r *Runtime) ListOutputDevices() ([]domain.OutputDevice, error) {
	return r.sink.ListOutputDevices()
}

func (r *Runtime) ListAliases(ctx context.Context) (map[string]string, error) {
	return mergedAliases(ctx, r.store, r.cfg, r.logger), nil
}

// SetAlias persists the pair and refreshes the live substitution map.
func (r *Runtime) SetAlias(ctx context.Context, from, to string) error {
	if err := r.store.SetAlias(ctx, from, to); err != nil {
		return err
	}
	r.dispatcher.SetAliases(mergedAliases(ctx, r.store, r.cfg, r.logger))
	return nil
}

func (r *Runtime) DeleteAlias(ctx context.Context, from string) error {
	if err := r.store.DeleteAlias(ctx, from); err != nil {
		return err
	}
	// An environment-seeded alias may shadow the deleted row; drop it too so
	// the deletion is visible.
	delete(r.cfg.Aliases, from)
	r.dispatcher.SetAliases(mergedAliases(ctx, r.store, r.cfg, r.logger))
	return nil
}

func (r *Runtime) startAPI() {
	if r.cfg.APIAddr == "" {
		return
	}

	server := ws.NewServer(ws.Config{
		Addr:    r.cfg.APIAddr,
		Bus:     r.bus,
		Control: r,
		History: r.store,
	})

	go func() {
		if err := server.Start(r.ctx); err != nil {
			r.logger.Error().Err(err).Str("addr", r.cfg.APIAddr).Msg("api server")
		}
	}()
}

func (r *Runtime) startMetrics() {
	if r.cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: r.cfg.MetricsAddr, Handler: mux}
	r.metricsSrv = srv

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error().Err(err).Str("addr", srv.Addr).Msg("metrics server")
		}
	}()
}

// applyStoredSettings overlays persisted overrides onto the environment
// config. Missing keys leave the config untouched.
func applyStoredSettings(ctx context.Context, store *sqlitestorage.SettingsStore, cfg *config.Config) error {
	if raw, ok, err := store.GetSetting(ctx, settingRoomID); err != nil {
		return err
	} else if ok {
		if roomID, err := strconv.ParseInt(raw, 10, 64); err == nil && roomID > 0 {
			cfg.RoomID = roomID
		}
	}

	if backend, ok, err := store.GetSetting(ctx, settingTTSBackend); err != nil {
		return err
	} else if ok && backend != "" {
		cfg.TTSBackend = backend
	}

	if device, ok, err := store.GetSetting(ctx, settingOutputDevice); err != nil {
		return err
	} else if ok && device != "" {
		cfg.OutputDevice = device
	}

	return nil
}

// mergedAliases combines environment-seeded aliases with the persisted map;
// persisted entries win.
func mergedAliases(ctx context.Context, store *sqlitestorage.SettingsStore, cfg *config.Config, logger zerolog.Logger) map[string]string {
	merged := make(map[string]string, len(cfg.Aliases))
	for k, v := range cfg.Aliases {
		merged[k] = v
	}

	stored, err := store.ListAliases(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("loading stored aliases")
		return merged
	}
	for k, v := range stored {
		merged[k] = v
	}
	return merged
}

func synthOptions(cfg *config.Config) tts.Options {
	return tts.Options{
		Backend: cfg.TTSBackend,
		FishSpeech: tts.FishSpeechConfig{
			APIURL: cfg.FishSpeechURL,
		},
		GPTSoVITS: tts.GPTSoVITSConfig{
			APIURL:          cfg.GPTSoVITSURL,
			TextLang:        cfg.GPTSoVITSTextLang,
			RefAudioPath:    cfg.GPTSoVITSRefAudioPath,
			RefText:         cfg.GPTSoVITSRefText,
			RefTextLang:     cfg.GPTSoVITSRefTextLang,
			TopK:            cfg.GPTSoVITSTopK,
			TopP:            cfg.GPTSoVITSTopP,
			Temperature:     cfg.GPTSoVITSTemperature,
			TextSplitMethod: cfg.GPTSoVITSTextSplitMethod,
			SpeedFactor:     cfg.GPTSoVITSSpeedFactor,
		},
		MiniMax: tts.MiniMaxConfig{
			APIURL:  cfg.MiniMaxURL,
			APIKey:  cfg.MiniMaxAPIKey,
			Model:   cfg.MiniMaxModel,
			VoiceID: cfg.MiniMaxVoiceID,
			Speed:   cfg.MiniMaxSpeed,
			Vol:     cfg.MiniMaxVol,
			Pitch:   cfg.MiniMaxPitch,
		},
		Google: tts.GoogleConfig{
			Voice: cfg.GoogleVoice,
		},
	}
}
