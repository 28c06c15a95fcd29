// Package profiledb keeps a queryable sqlite index of run outputs: agent
// profiles at each profiling interval, interval metrics, lysis events, and
// checkpoint locations. Writes funnel through a single goroutine so the sim
// loop never blocks on the database; the JSONL logs remain the source of
// truth if the indexer falls behind.
package profiledb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"cartsim.ai/internal/sim/cells"
)

type DB struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqProfile reqKind = iota + 1
	reqMetrics
	reqLysis
	reqCheckpoint
	reqSync
)

type req struct {
	kind reqKind

	runID      string
	tick       uint64
	profiles   []cells.AgentSnapshot
	metrics    cells.Metrics
	lysis      []cells.DeathRecord
	checkpoint string
	done       chan struct{}
}

func Open(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &DB{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			series TEXT NOT NULL,
			seed INTEGER NOT NULL,
			started_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS profiles (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			subtype TEXT NOT NULL,
			pop INTEGER NOT NULL,
			type INTEGER NOT NULL,
			u INTEGER NOT NULL,
			v INTEGER NOT NULL,
			z INTEGER NOT NULL,
			volume REAL NOT NULL,
			age INTEGER NOT NULL,
			cycles_json TEXT,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_profiles_pop_tick ON profiles(run_id, pop, tick);`,
		`CREATE TABLE IF NOT EXISTS metrics (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			cells INTEGER NOT NULL,
			targets INTEGER NOT NULL,
			lysed INTEGER NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS lysis (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			pop INTEGER NOT NULL,
			u INTEGER NOT NULL,
			v INTEGER NOT NULL,
			z INTEGER NOT NULL,
			volume REAL NOT NULL,
			age INTEGER NOT NULL,
			PRIMARY KEY (run_id, tick, seq)
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			run_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			path TEXT NOT NULL,
			PRIMARY KEY (run_id, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RegisterRun records the run synchronously before any writes reference it.
func (s *DB) RegisterRun(runID, seriesName string, seed int64) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO runs(run_id,series,seed,started_at) VALUES(?,?,?,?)`,
		runID, seriesName, seed, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err == nil {
		_, err = s.db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`)
	}
	return err
}

// WriteProfiles enqueues one profiling interval's agent snapshots. Entries
// drop if the writer falls behind.
func (s *DB) WriteProfiles(runID string, tick uint64, snaps []cells.AgentSnapshot) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqProfile, runID: runID, tick: tick, profiles: snaps}:
	default:
	}
}

func (s *DB) WriteMetrics(runID string, m cells.Metrics) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqMetrics, runID: runID, tick: m.Tick, metrics: m}:
	default:
	}
}

func (s *DB) WriteLysis(runID string, tick uint64, recs []cells.DeathRecord) {
	if s == nil || s.closed.Load() || len(recs) == 0 {
		return
	}
	select {
	case s.ch <- req{kind: reqLysis, runID: runID, tick: tick, lysis: recs}:
	default:
	}
}

func (s *DB) RecordCheckpoint(runID string, tick uint64, path string) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqCheckpoint, runID: runID, tick: tick, checkpoint: path}:
	default:
	}
}

func (s *DB) loop() {
	ctx := context.Background()

	insertProfile, _ := s.db.Prepare(`INSERT OR REPLACE INTO profiles(run_id,tick,seq,subtype,pop,type,u,v,z,volume,age,cycles_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertMetrics, _ := s.db.Prepare(`INSERT OR REPLACE INTO metrics(run_id,tick,cells,targets,lysed,raw_json) VALUES(?,?,?,?,?,?)`)
	insertLysis, _ := s.db.Prepare(`INSERT OR REPLACE INTO lysis(run_id,tick,seq,pop,u,v,z,volume,age) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertCheckpoint, _ := s.db.Prepare(`INSERT OR REPLACE INTO checkpoints(run_id,tick,path) VALUES(?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertProfile, insertMetrics, insertLysis, insertCheckpoint} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqProfile:
			for i, p := range r.profiles {
				if insertProfile == nil {
					break
				}
				var cyclesJSON any
				if len(p.Cycles) > 0 {
					b, _ := json.Marshal(p.Cycles)
					cyclesJSON = string(b)
				}
				if _, err := tx.Stmt(insertProfile).Exec(
					r.runID, int64(r.tick), i,
					p.Subtype, p.Pop, p.Type,
					p.Loc.U, p.Loc.V, p.Loc.Z,
					p.Volume, p.Age, cyclesJSON,
				); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqMetrics:
			raw, _ := json.Marshal(r.metrics)
			if insertMetrics != nil {
				if _, err := tx.Stmt(insertMetrics).Exec(
					r.runID, int64(r.tick),
					r.metrics.Cells, r.metrics.Targets, r.metrics.Lysed,
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqLysis:
			for i, d := range r.lysis {
				if insertLysis == nil {
					break
				}
				if _, err := tx.Stmt(insertLysis).Exec(
					r.runID, int64(d.Tick), i,
					d.Cell.Pop, d.Loc.U, d.Loc.V, d.Loc.Z,
					d.Cell.Volume, d.Cell.Age,
				); err != nil {
					rollback()
					break
				}
				opCount++
			}

		case reqCheckpoint:
			if insertCheckpoint != nil {
				if _, err := tx.Stmt(insertCheckpoint).Exec(r.runID, int64(r.tick), r.checkpoint); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		}
		flushIfNeeded()
	}

	commit()
}

// Flush blocks until everything queued so far is committed, for tests and
// shutdown paths that read back immediately.
func (s *DB) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqSync, done: done}
	<-done
}
