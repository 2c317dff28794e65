package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/avlloyd/remindd/internal/config"
	"github.com/avlloyd/remindd/internal/dayclock"
	"github.com/avlloyd/remindd/internal/engine"
	"github.com/avlloyd/remindd/internal/queue"
	"github.com/avlloyd/remindd/internal/remote"
	"github.com/avlloyd/remindd/internal/retention"
	"github.com/avlloyd/remindd/internal/store"
	"github.com/avlloyd/remindd/internal/sync"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "remindd",
	Short: "Offline-first reminder cache and sync daemon",
	Long: `remindd maintains a local SQLite cache of reminders, queues edits
made while offline, and reconciles with the remote reminder service in
the background.

Reads and writes always hit the local cache first; the network is only
touched by the sync cycle (push pending mutations, then pull).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default: remindd.yaml in the user config dir)")
}

// app bundles everything the commands need after wiring.
type app struct {
	cfg     *config.Config
	store   *store.Store
	queue   *queue.Queue
	sync    *sync.Service
	engine  *engine.Engine
	dayEng  *dayclock.Engine
	cleanup func()
}

// buildApp is the composition root: it loads config, opens the cache,
// and wires the queue, remote client, retention policy, and sync
// service together.
func buildApp(logOut io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	q := queue.New(st.RawDB(), cfg.MaxRetries, log.New(logOut, "[queue] ", log.LstdFlags))
	rc := remote.NewHTTPClient(remote.Options{
		Endpoint: cfg.Endpoint,
		Timeout:  cfg.RequestTimeout,
		Attempts: cfg.RequestAttempts,
	})
	day := dayclock.NewEngine(st, log.New(logOut, "[dayclock] ", log.LstdFlags))
	policy := retention.New(st, cfg.RetentionCeilingBytes, log.New(logOut, "[retention] ", log.LstdFlags))

	settings := func() sync.Settings {
		return sync.Settings{
			DayStartHour:      cfg.DayStartHour,
			PushBatchSize:     cfg.PushBatchSize,
			QueueCeilingBytes: cfg.QueueCeilingBytes,
		}
	}
	svc := sync.New(st, q, rc, day, policy, settings, log.New(logOut, "[sync] ", log.LstdFlags))

	eng := engine.New(st, q, svc, func() int { return cfg.DayStartHour },
		log.New(logOut, "[engine] ", log.LstdFlags))

	return &app{
		cfg:     cfg,
		store:   st,
		queue:   q,
		sync:    svc,
		engine:  eng,
		dayEng:  day,
		cleanup: func() { st.Close() },
	}, nil
}

// daemonLogWriter returns the daemon log destination. A configured log
// file is rotated; otherwise logs go to stderr.
func daemonLogWriter(cfg *config.Config) io.Writer {
	if cfg.LogFile == "" {
		return os.Stderr
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	}
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Format("2006-01-02 15:04:05")
}
