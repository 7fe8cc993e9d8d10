package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SessionDB is the long-term sessions store. Writes are queued to a single
// writer goroutine so the orchestrator never waits on disk.
type SessionDB struct {
	db  *sql.DB
	log *slog.Logger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
	failed  atomic.Uint64
}

type reqKind int

const (
	reqStart reqKind = iota + 1
	reqEnd
	reqEvent
	reqSync
)

type req struct {
	kind reqKind

	id       string
	at       time.Time
	result   string
	duration time.Duration
	typ      string
	payload  string
	done     chan struct{}
}

// Stats reports queue health.
type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropTotal     uint64
	FailTotal     uint64
}

const queueSize = 4096

var ErrClosed = errors.New("indexdb: closed")

func OpenSQLite(path string, log *slog.Logger) (*SessionDB, error) {
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
	if log == nil {
		log = slog.Default()
	}
	s := &SessionDB{db: db, log: log, ch: make(chan req, queueSize)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
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
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			start_time TEXT NOT NULL,
			end_time TEXT,
			result TEXT NOT NULL,
			duration_seconds REAL NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			timestamp TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SessionDB) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SessionDB) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropped.Load(),
		FailTotal:     s.failed.Load(),
	}
}

func (s *SessionDB) enqueue(r req) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		// The run JSONL remains the source of truth.
		s.dropped.Add(1)
	}
}

func (s *SessionDB) StartSession(id string, start time.Time) {
	s.enqueue(req{kind: reqStart, id: id, at: start})
}

func (s *SessionDB) EndSession(id string, end time.Time, result string, duration time.Duration) {
	s.enqueue(req{kind: reqEnd, id: id, at: end, result: result, duration: duration})
}

func (s *SessionDB) AppendEvent(id string, at time.Time, typ string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte("null")
	}
	s.enqueue(req{kind: reqEvent, id: id, at: at, typ: typ, payload: string(b)})
}

// Sync blocks until every write queued before it is committed.
func (s *SessionDB) Sync(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// prepare returns nil when the statement cannot be prepared; writes that need
// it are then counted as failed.
func (s *SessionDB) prepare(name, query string) *sql.Stmt {
	st, err := s.db.Prepare(query)
	if err != nil {
		s.log.Error("sessions db prepare failed", "stmt", name, "err", err)
		return nil
	}
	return st
}

func ts(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func (s *SessionDB) loop() {
	ctx := context.Background()

	insertStart := s.prepare("insert_start", `INSERT OR REPLACE INTO sessions(id,start_time,result,duration_seconds) VALUES(?,?,'RUNNING',0)`)
	updateEnd := s.prepare("update_end", `UPDATE sessions SET end_time=?, result=?, duration_seconds=? WHERE id=?`)
	insertEvent := s.prepare("insert_event", `INSERT INTO events(session_id,timestamp,type,payload) VALUES(?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertStart, updateEnd, insertEvent} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.Warn("sessions db begin failed", "err", err)
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
		if err := tx.Commit(); err != nil {
			s.failed.Add(1)
			s.log.Warn("sessions db commit failed", "err", err)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if tx == nil {
			return
		}
		if st == nil {
			s.failed.Add(1)
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			s.failed.Add(1)
			s.log.Warn("sessions db write failed", "err", err)
			return
		}
		opCount++
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			s.failed.Add(1)
			continue
		}
		switch r.kind {
		case reqStart:
			exec(insertStart, r.id, ts(r.at))
		case reqEnd:
			exec(updateEnd, ts(r.at), r.result, r.duration.Seconds(), r.id)
		case reqEvent:
			exec(insertEvent, r.id, ts(r.at), r.typ, r.payload)
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}
