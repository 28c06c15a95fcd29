package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"

	persistlog "cartsim.ai/internal/persistence/log"
	"cartsim.ai/internal/persistence/profiledb"
	"cartsim.ai/internal/persistence/snapshot"
	"cartsim.ai/internal/sim/cells"
	"cartsim.ai/internal/sim/engine"
	"cartsim.ai/internal/sim/series"
	"cartsim.ai/internal/transport/ws"
)

func main() {
	var (
		seriesPath = flag.String("series", "./configs/series.yaml", "series config path (falls back to built-in defaults if missing)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		addr       = flag.String("addr", "", "observer websocket listen address (empty to disable)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite profile index")

		ckptPath   = flag.String("checkpoint", "", "path to checkpoint to resume (optional)")
		loadLatest = flag.Bool("load_latest_checkpoint", false, "resume from the latest checkpoint in the data dir if present (when -checkpoint is empty)")

		seedOverride = flag.Int64("seed", 0, "override the series seed (fresh runs only; 0 keeps the configured seed)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[cartsim] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := loadSeries(*seriesPath, logger)
	if err != nil {
		logger.Fatalf("load series: %v", err)
	}
	if *seedOverride != 0 {
		cfg.Seed = *seedOverride
	}

	runDir := filepath.Join(*dataDir, "runs", cfg.Name)
	_ = os.MkdirAll(runDir, 0o755)

	toLoad := strings.TrimSpace(*ckptPath)
	if toLoad == "" && *loadLatest {
		toLoad = latestCheckpoint(filepath.Join(runDir, "checkpoints"))
	}

	var sim *cells.Sim
	runID := uuid.NewString()
	if toLoad != "" {
		cp, err := snapshot.ReadCheckpoint(toLoad)
		if err != nil {
			logger.Fatalf("read checkpoint %s: %v", toLoad, err)
		}
		sim, err = cells.Resume(cfg, cp)
		if err != nil {
			logger.Fatalf("resume: %v", err)
		}
		runID = cp.Header.RunID
		logger.Printf("resumed run %s at tick %d from %s", runID, cp.Header.Tick, toLoad)
	} else {
		sim, err = cells.New(cfg)
		if err != nil {
			logger.Fatalf("new simulation: %v", err)
		}
		logger.Printf("fresh run %s, series %q, seed %d", runID, cfg.Name, cfg.Seed)
	}

	lysisLog := persistlog.NewLysisLogger(runDir)
	defer lysisLog.Close()
	metricsLog := persistlog.NewMetricsLogger(runDir)
	defer metricsLog.Close()

	var db *profiledb.DB
	if !*disableDB {
		db, err = profiledb.Open(filepath.Join(runDir, "profiles.db"))
		if err != nil {
			logger.Fatalf("open profile db: %v", err)
		}
		defer db.Close()
		if err := db.RegisterRun(runID, cfg.Name, cfg.Seed); err != nil {
			logger.Fatalf("register run: %v", err)
		}
	}

	var observers *ws.Server
	if *addr != "" {
		observers = ws.NewServer(runID, cfg.Name, cfg.Seed, logger)
		mux := http.NewServeMux()
		mux.HandleFunc("/v1/observe", observers.Handler())
		go func() {
			if err := http.ListenAndServe(*addr, mux); err != nil {
				logger.Printf("observer server: %v", err)
			}
		}()
		logger.Printf("observer stream on ws://%s/v1/observe", *addr)
	}

	scheduleProfilers(sim, cfg, runID, runDir, lysisLog, metricsLog, db, observers, logger)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- sim.Run() }()

	select {
	case err := <-done:
		if err != nil {
			logger.Fatalf("run aborted at tick %d: %v", sim.Sched.Time(), err)
		}
		logger.Printf("run %s complete at tick %d", runID, sim.Sched.Time())
	case sig := <-stop:
		logger.Printf("received %v, exiting at tick %d", sig, sim.Sched.Time())
	}
}

func loadSeries(path string, logger *log.Logger) (*series.Series, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			logger.Printf("series config not found (%s); using built-in defaults", path)
			return series.Default(), nil
		}
		return nil, err
	}
	return series.Load(path)
}

// scheduleProfilers arms the output-producing entries: metrics, per-agent
// profiles, and lysis records at the profiling interval; checkpoints at the
// snapshot interval. They run after cells and helpers, so each interval
// captures settled state.
func scheduleProfilers(
	sim *cells.Sim,
	cfg *series.Series,
	runID, runDir string,
	lysisLog *persistlog.LysisLogger,
	metricsLog *persistlog.MetricsLogger,
	db *profiledb.DB,
	observers *ws.Server,
	logger *log.Logger,
) {
	if cfg.ProfileInterval > 0 {
		sim.Sched.ScheduleRepeating(sim.Sched.Time()+cfg.ProfileInterval, engine.OrderingProfilers, cfg.ProfileInterval, func(tick uint64) {
			m := sim.CollectMetrics()
			if err := metricsLog.WriteMetrics(m); err != nil {
				logger.Printf("metrics log: %v", err)
			}
			db.WriteMetrics(runID, m)
			if observers != nil {
				observers.Broadcast(m)
			}

			var snaps []cells.AgentSnapshot
			for _, c := range sim.Cells() {
				snaps = append(snaps, c.Snapshot())
			}
			for _, t := range sim.Targets() {
				snaps = append(snaps, t.Snapshot())
			}
			db.WriteProfiles(runID, tick, snaps)

			lysed := sim.DrainLysed()
			for _, rec := range lysed {
				if err := lysisLog.WriteLysis(rec); err != nil {
					logger.Printf("lysis log: %v", err)
				}
			}
			db.WriteLysis(runID, tick, lysed)
		})
	}

	if cfg.SnapshotInterval > 0 {
		sim.Sched.ScheduleRepeating(sim.Sched.Time()+cfg.SnapshotInterval, engine.OrderingProfilers, cfg.SnapshotInterval, func(tick uint64) {
			cp, err := sim.ExportCheckpoint(runID)
			if err != nil {
				logger.Printf("checkpoint export: %v", err)
				return
			}
			path := filepath.Join(runDir, "checkpoints", fmt.Sprintf("tick%08d.ckpt.zst", tick))
			if err := snapshot.WriteCheckpoint(path, cp); err != nil {
				logger.Printf("checkpoint write: %v", err)
				return
			}
			db.RecordCheckpoint(runID, tick, path)
			logger.Printf("checkpoint at tick %d: %s", tick, path)
		})
	}
}

// latestCheckpoint returns the checkpoint with the highest tick in a
// directory, or empty.
func latestCheckpoint(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".ckpt.zst") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[len(names)-1])
}
