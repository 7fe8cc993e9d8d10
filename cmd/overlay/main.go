package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/audio"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/bus"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/drivers/framedir"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/drivers/tesseract"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/logging"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/persistence/archive"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/persistence/indexdb"
	persistlog "github.com/jeanroukas/eldenring-timer-sub000/internal/persistence/log"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/patterns"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/session"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/transport/overlay"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/vision"
)

const (
	logMaxBytes = 8 << 20
	logKeep     = 5
)

type options struct {
	env       config.Env
	templates string
	ttsBin    string
	lang      string
}

func main() {
	logger := log.New(os.Stdout, "[overlay] ", log.LstdFlags|log.Lmicroseconds)

	env, err := config.LoadEnv()
	if err != nil {
		logger.Fatalf("env: %v", err)
	}
	var (
		dataDir   = flag.String("data", env.DataDir, "runtime data directory")
		cfgPath   = flag.String("config", "", "settings yaml (default: <data>/config.yaml)")
		addr      = flag.String("addr", env.OverlayAddr, "overlay websocket listen address (loopback)")
		logLevel  = flag.String("log_level", env.LogLevel, "log level (default: settings log_level)")
		logFormat = flag.String("log_format", env.LogFormat, "log format: text|json")
		tessBin   = flag.String("tesseract", env.TesseractBin, "tesseract binary")
		lang      = flag.String("lang", "fra+eng", "tesseract languages")
		frameDir  = flag.String("frames", env.FrameDir, "directory an external grabber writes screenshots to")
		templates = flag.String("templates", "", "HUD template directory (default: <data>/templates)")
		ttsBin    = flag.String("tts", "", "espeak-compatible TTS binary (empty: log announcements)")
	)
	flag.Parse()

	env.DataDir = *dataDir
	env.ConfigPath = *cfgPath
	if env.ConfigPath == "" {
		env.ConfigPath = filepath.Join(env.DataDir, "config.yaml")
	}
	env.OverlayAddr = *addr
	env.LogLevel = *logLevel
	env.LogFormat = *logFormat
	env.TesseractBin = *tessBin
	env.FrameDir = *frameDir
	opts := options{env: env, templates: *templates, ttsBin: *ttsBin, lang: *lang}
	if opts.templates == "" {
		opts.templates = filepath.Join(env.DataDir, "templates")
	}

	os.Exit(run(opts, logger))
}

func run(opts options, logger *log.Logger) int {
	env := opts.env
	store, err := config.Open(env.ConfigPath)
	if err != nil {
		logger.Printf("config: %v", err)
		return 1
	}
	settings := store.Settings()

	levelName := env.LogLevel
	if levelName == "" {
		levelName = settings.LogLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		logger.Printf("log level: %v", err)
		return 2
	}
	rot, err := logging.OpenRotating(env.LogPath(), logMaxBytes, logKeep)
	if err != nil {
		logger.Printf("open log: %v", err)
		return 1
	}
	defer rot.Close()
	logging.Init(level, env.LogFormat, os.Stderr, rot)
	lg := logging.New("main")

	if env.FrameDir == "" {
		logger.Printf("no capture source: set -frames or NR_FRAME_DIR")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engines, err := tesseract.Factory(ctx, tesseract.Options{Bin: env.TesseractBin, Lang: opts.lang})
	if err != nil {
		logger.Printf("ocr init: %v", err)
		return 1
	}

	matcher, err := patterns.Load(env.PatternsPath())
	if err != nil {
		logger.Printf("patterns: %v", err)
		return 1
	}

	b := bus.New()
	orch := session.New(session.Config{
		Curve:        settings.Nightreign,
		Patterns:     matcher,
		SessionCount: settings.SessionCount,
		Logger:       logging.New("session"),
	})
	orch.SetBus(b)
	orch.SubscribeObservations(b)
	logging.SetRunContext(orch.Baseline())
	orch.OnSessionCount(func(int) {
		if err := store.IncrementSessionCount(); err != nil {
			lg.Warn("session count not saved", "err", err)
		}
	})

	runs := persistlog.NewRunRecorder(env.RunsDir())
	defer runs.Close()
	orch.SetRunLogger(runs)
	orch.SetGraphLogger(runs)

	if settings.SaveRawSamples {
		name := time.Now().UTC().Format("20060102-150405") + ".obs.jsonl.zst"
		j, err := persistlog.OpenJournal(filepath.Join(env.JournalDir(), name))
		if err != nil {
			lg.Warn("observation journal disabled", "err", err)
		} else {
			defer j.Close()
			orch.SetJournal(j)
		}
	}

	db, err := indexdb.OpenSQLite(env.SessionsDB(), logging.New("indexdb"))
	if err != nil {
		lg.Warn("sessions db disabled", "err", err)
	} else {
		defer db.Close()
		orch.SetSessionStore(db)
	}

	files := runs.Files()
	arch := archive.New(env.ArchivesDir(), func(id string) []string {
		return []string{files.RunPath(id), files.GraphPath(id)}
	}, logging.New("archive"))
	defer arch.Close()
	orch.SetArchiver(arch)

	var speaker audio.Speaker = audio.LogSpeaker{Log: logging.New("audio")}
	if opts.ttsBin != "" {
		speaker = audio.CommandSpeaker{Bin: opts.ttsBin, Voice: settings.AudioVoiceID, Rate: settings.AudioRate, Volume: settings.AudioVolume}
	}
	ann := audio.NewAnnouncer(speaker, logging.New("audio"))
	ann.SetEnabled(settings.AudioEnabled)
	orch.SetAnnouncer(ann)

	banner, stats, err := buildLoops(opts, settings, engines, b, orch.Baseline())
	if err != nil {
		logger.Printf("vision: %v", err)
		return 1
	}
	defer banner.Close()
	defer stats.Close()
	orch.AddPauser(banner)
	orch.AddPauser(stats)
	watchSettings(store, banner, stats, ann, lg)

	feed := overlay.NewServer(orch, logging.New("overlay"))
	feed.Attach(b)
	httpSrv := &http.Server{Addr: env.OverlayAddr, Handler: feed.Handler(), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer stop()
		err := orch.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return banner.Run(gctx) })
	g.Go(func() error { return stats.Run(gctx) })
	g.Go(func() error { return ann.Run(gctx) })
	g.Go(func() error {
		lg.Info("overlay listening", "addr", env.OverlayAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		lg.Error("overlay stopped", "err", err)
		return 1
	}
	lg.Info("overlay stopped", "sessions", orch.SessionCount())
	return 0
}

func buildLoops(opts options, s config.Settings, engines vision.EngineFactory, b *bus.Bus, base vision.Baseline) (*vision.BannerLoop, *vision.StatsLoop, error) {
	capt := framedir.New(opts.env.FrameDir)
	profiles := vision.DefaultProfiles()
	regions := vision.RegionsFrom(s)
	debugDir := ""
	if s.SaveDebugImages {
		debugDir = filepath.Join(opts.env.DataDir, "debug")
	}

	banner, err := vision.NewBannerLoop(vision.BannerConfig{
		Capturer:       capt,
		Engines:        engines,
		Profile:        vision.ProfileFrom(profiles["banner"], s.OCRParams[config.OCRDay]),
		VictoryProfile: profiles["victory"],
		Regions:        regions,
		Baseline:       base,
		Publisher:      b,
		Logger:         logging.New("vision.banner"),
		DebugDir:       debugDir,
	})
	if err != nil {
		return nil, nil, err
	}

	icon, err := framedir.LoadTemplate(filepath.Join(opts.templates, "runes_icon.png"))
	if err != nil {
		banner.Close()
		return nil, nil, err
	}
	menu, err := framedir.LoadTemplate(filepath.Join(opts.templates, "menu.png"))
	if err != nil {
		banner.Close()
		return nil, nil, err
	}
	stats, err := vision.NewStatsLoop(vision.StatsConfig{
		Capturer:     capt,
		Engines:      engines,
		Matcher:      vision.NCCMatcher{Step: 2},
		IconTemplate: icon,
		MenuTemplate: menu,
		LevelProfile: vision.ProfileFrom(profiles["level"], s.OCRParams[config.OCRLevel]),
		RunesProfile: vision.ProfileFrom(profiles["runes"], s.OCRParams[config.OCRRunes]),
		Regions:      regions,
		Baseline:     base,
		Publisher:    b,
		Logger:       logging.New("vision.stats"),
		DebugDir:     debugDir,
	})
	if err != nil {
		banner.Close()
		return nil, nil, err
	}
	return banner, stats, nil
}

// watchSettings applies live edits of region and audio keys.
func watchSettings(store *config.Store, banner *vision.BannerLoop, stats *vision.StatsLoop, ann *audio.Announcer, lg *slog.Logger) {
	regions := func(any) {
		r := vision.RegionsFrom(store.Settings())
		banner.SetRegions(r)
		stats.SetRegions(r)
	}
	for _, key := range config.Keys() {
		var err error
		switch {
		case strings.HasSuffix(key, "_region"):
			err = store.Observe(key, regions)
		case key == "audio_enabled":
			err = store.Observe(key, func(v any) {
				on, _ := v.(bool)
				ann.SetEnabled(on)
			})
		}
		if err != nil {
			lg.Warn("observe setting", "key", key, "err", err)
		}
	}
}
