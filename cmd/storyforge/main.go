package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"storyforge/internal/api"
	"storyforge/pkg/artifacts"
	"storyforge/pkg/audio"
	"storyforge/pkg/config"
	"storyforge/pkg/db"
	"storyforge/pkg/db/maintenance"
	"storyforge/pkg/jobs"
	"storyforge/pkg/llm"
	"storyforge/pkg/llm/failover"
	"storyforge/pkg/llm/gemini"
	"storyforge/pkg/llm/ollama"
	"storyforge/pkg/llm/openai"
	"storyforge/pkg/logging"
	"storyforge/pkg/playback"
	"storyforge/pkg/probe"
	"storyforge/pkg/request"
	"storyforge/pkg/sd"
	"storyforge/pkg/store"
	"storyforge/pkg/story"
	"storyforge/pkg/tracker"
	"storyforge/pkg/tts"
	"storyforge/pkg/tts/xtts"
	"storyforge/pkg/version"
	"storyforge/pkg/watcher"
)

const (
	defaultConfigPath = "configs/storyforge.yaml"
	catalogTTL        = time.Minute
)

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
)

func main() {
	flag.Parse()

	// Missing .env is fine, keys can live in the config or the environment
	_ = godotenv.Load()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	llm.SetLogPath(appCfg.Log.LLM.Path)
	tts.SetLogPath(appCfg.Log.TTS.Path)

	slog.Info("storyforge started", "version", version.Version, "config", configPath)

	dbConn, st, err := initDB(appCfg)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	if err := maintenance.Run(ctx, st, appCfg.DB.HistoryRetention.Std()); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	tr := tracker.New()
	rc := request.New(tr, request.ClientConfig{
		Retries:   appCfg.Request.Retries,
		Timeout:   appCfg.Request.Timeout.Std(),
		BaseDelay: appCfg.Request.Backoff.BaseDelay.Std(),
		MaxDelay:  appCfg.Request.Backoff.MaxDelay.Std(),
	})

	writer, err := newLLM(ctx, appCfg, rc, tr)
	if err != nil {
		return fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	images := sd.NewClient(appCfg.SD.URL, sd.Settings{
		Steps:          appCfg.SD.Steps,
		Sampler:        appCfg.SD.Sampler,
		Width:          appCfg.SD.Width,
		Height:         appCfg.SD.Height,
		CFGScale:       appCfg.SD.CFGScale,
		NegativePrompt: appCfg.SD.NegativePrompt,
		Styles:         appCfg.SD.Styles,
		Timeout:        appCfg.SD.Timeout.Std(),
	}, rc)

	speech := xtts.NewProvider(xtts.Options{
		URL:        appCfg.TTS.URL,
		Language:   appCfg.TTS.Language,
		SampleRate: appCfg.TTS.SampleRate,
		Timeout:    appCfg.TTS.Timeout.Std(),
	}, rc)

	files := artifacts.New(appCfg.Paths.TextDir, appCfg.Paths.AudioDir, appCfg.Paths.ImageDir)
	if err := files.EnsureDirs(); err != nil {
		return fmt.Errorf("failed to create output dirs: %w", err)
	}

	prompts, err := story.NewManager("")
	if err != nil {
		return fmt.Errorf("failed to load prompt templates: %w", err)
	}

	pipeline := jobs.NewPipeline(jobs.PipelineConfig{
		SpeakerDir:       appCfg.Paths.SpeakerDir,
		DefaultModel:     appCfg.EngineModel(appCfg.LLM.Engine),
		MaxCount:         appCfg.Worker.MaxCount,
		Characters:       appCfg.Characters,
		DefaultCharacter: appCfg.DefaultCharacter,
	}, writer, speech, images, files, prompts)

	bus := jobs.NewEventBus(jobs.DefaultEventBuffer)
	registry := jobs.NewRegistry(bus, st, appCfg.Worker.StatusRetention)
	worker := jobs.NewWorker(pipeline, registry, appCfg.Worker.QueueSize)
	worker.Start(ctx)

	results := probe.Run(ctx, startupProbes(appCfg, writer, images, speech, files), 0)
	statsH := api.NewStatsHandler(tr, worker, registry.Active)
	statsH.SetProbes(results)
	if err := probe.AnalyzeResults(results); err != nil {
		_ = worker.Shutdown(appCfg.Worker.ShutdownTimeout.Or(10 * time.Second))
		return fmt.Errorf("startup checks failed: %w", err)
	}

	player := audio.New(appCfg.Audio.Enabled, appCfg.Audio.Volume)
	playbackMgr := playback.NewManager(player, files, bus)
	if v, ok := st.GetState(ctx, config.KeyVolume); ok {
		if vol, err := strconv.ParseFloat(v, 64); err == nil {
			playbackMgr.SetVolume(vol)
		}
	}

	textDir, audioDir, imageDir := files.Dirs()
	outputWatcher := watcher.NewService([]string{textDir, audioDir, imageDir}, appCfg.Paths.WatchInterval.Std())
	go outputWatcher.Run(ctx, bus.FilesChanged)

	catalog := api.NewCatalog(catalogTTL)
	catalog.Register(api.ListModels, writer.Models)
	catalog.Register(api.ListCheckpoints, images.Models)
	catalog.Register(api.ListVAEs, images.VAEs)
	catalog.Register(api.ListStyles, images.Styles)
	catalog.Register(api.ListSpeakers, func(context.Context) ([]string, error) {
		return tts.Speakers(appCfg.Paths.SpeakerDir)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)
	shutdownFunc := func() {
		select {
		case quit <- syscall.SIGTERM:
		default:
		}
	}

	genH, err := api.NewGenerateHandler(worker, catalog, st, prompts, registry, files, api.FormDefaults{
		DefaultModel:     appCfg.EngineModel(appCfg.LLM.Engine),
		MaxCount:         appCfg.Worker.MaxCount,
		NegativePrompt:   appCfg.SD.NegativePrompt,
		Characters:       appCfg.CharacterNames(),
		DefaultCharacter: appCfg.DefaultCharacter,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize web form: %w", err)
	}

	srv := api.NewServer(appCfg.Server.Address,
		genH,
		api.NewFilesHandler(files, playbackMgr, bus),
		api.NewJobsHandler(registry, worker, st),
		api.NewEventsHandler(bus),
		api.NewPlaybackHandler(playbackMgr, st),
		statsH,
		api.NewConfigHandler(appCfg, st),
		shutdownFunc,
	)

	serveErr := runServerLifecycle(ctx, srv, quit, appCfg.Server.ShutdownTimeout.Or(5*time.Second))

	// In-flight item gets the worker timeout, then the root context is cancelled
	if err := worker.Shutdown(appCfg.Worker.ShutdownTimeout.Or(10 * time.Second)); err != nil {
		slog.Warn("Worker did not stop in time", "error", err)
	}
	playbackMgr.Shutdown()

	slog.Info("storyforge stopped")
	return serveErr
}

func initDB(appCfg *config.Config) (*db.DB, *store.SQLiteStore, error) {
	dbConn, err := db.Init(appCfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return dbConn, store.NewSQLiteStore(dbConn), nil
}

// newLLM builds the provider selected by llm.engine, wrapped in a failover
// chain when llm.fallback lists more engines.
func newLLM(ctx context.Context, cfg *config.Config, rc *request.Client, tr *tracker.Tracker) (llm.Provider, error) {
	primary, err := newEngine(ctx, cfg, cfg.LLM.Engine, rc, tr)
	if err != nil {
		return nil, err
	}
	if len(cfg.LLM.Fallback) == 0 {
		return primary, nil
	}

	providers := []llm.Provider{primary}
	names := []string{cfg.LLM.Engine}
	for _, engine := range cfg.LLM.Fallback {
		p, err := newEngine(ctx, cfg, engine, rc, tr)
		if err != nil {
			slog.Warn("LLM fallback unavailable, skipping", "engine", engine, "error", err)
			continue
		}
		providers = append(providers, p)
		names = append(names, engine)
	}
	slog.Info("LLM failover chain", "engines", names)
	chain, err := failover.New(providers, names)
	if err != nil {
		return nil, err
	}
	return chain, nil
}

func newEngine(ctx context.Context, cfg *config.Config, engine string, rc *request.Client, tr *tracker.Tracker) (llm.Provider, error) {
	model := cfg.EngineModel(engine)
	switch engine {
	case "openai":
		c, err := openai.NewClient(openai.Options{
			BaseURL:      cfg.LLM.OpenAI.BaseURL,
			APIKey:       cfg.LLM.OpenAI.Key,
			DefaultModel: model,
			Models:       cfg.LLM.OpenAI.Models,
			Retries:      cfg.Request.Retries,
			Timeout:      cfg.Request.Timeout.Std(),
		}, tr)
		if err != nil {
			return nil, err
		}
		c.SetTemperature(cfg.LLM.Temperature)
		return c, nil
	case "gemini":
		c, err := gemini.NewClient(ctx, cfg.LLM.Gemini.Key, model, tr)
		if err != nil {
			return nil, err
		}
		c.SetTemperature(cfg.LLM.Temperature)
		return c, nil
	default:
		c, err := ollama.NewClient(cfg.LLM.Ollama.URL, model, rc)
		if err != nil {
			return nil, err
		}
		c.SetTemperature(cfg.LLM.Temperature)
		return c, nil
	}
}

func startupProbes(cfg *config.Config, writer llm.Provider, images *sd.Client, speech *xtts.Provider, files *artifacts.Store) []probe.Probe {
	textDir, audioDir, imageDir := files.Dirs()
	return []probe.Probe{
		{
			Name:     "Output directories",
			Critical: true,
			Check: func(context.Context) error {
				return errors.Join(checkWritable(textDir), checkWritable(audioDir), checkWritable(imageDir))
			},
		},
		{
			Name:  "LLM (" + cfg.LLM.Engine + ")",
			Check: writer.HealthCheck,
			Hint:  "is the model server running and the key set?",
		},
		{
			Name:  "Stable Diffusion",
			Check: images.HealthCheck,
			Hint:  "start the WebUI with --api",
		},
		{
			Name:  "TTS (" + cfg.TTS.Engine + ")",
			Check: speech.HealthCheck,
			Hint:  "is xtts-api-server running?",
		},
		{
			Name: "Speaker samples",
			Check: func(context.Context) error {
				names, err := tts.Speakers(cfg.Paths.SpeakerDir)
				if err != nil {
					return err
				}
				if len(names) == 0 {
					return fmt.Errorf("no .wav samples in %s", cfg.Paths.SpeakerDir)
				}
				return nil
			},
			Hint: "drop a short .wav voice sample into the speaker dir",
		},
	}
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("%s not writable: %w", filepath.Clean(dir), err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal, timeout time.Duration) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
