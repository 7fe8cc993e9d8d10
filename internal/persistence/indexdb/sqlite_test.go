package indexdb

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC)

func openTemp(t *testing.T) *SessionDB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "sessions.db"), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSessionDB_Lifecycle(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()

	db.StartSession("a", t0)
	db.AppendEvent("a", t0.Add(time.Second), "trigger", map[string]any{"day": 1})
	db.AppendEvent("a", t0.Add(2*time.Second), "death", map[string]any{"lost": 49624})
	db.EndSession("a", t0.Add(40*time.Minute), "VICTORY", 38*time.Minute)
	db.EndSession("a", t0.Add(41*time.Minute), "VICTORY_CONFIRMED", 38*time.Minute)
	db.StartSession("b", t0.Add(time.Hour))
	if err := db.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	rows, err := db.RecentSessions(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	var got []string
	for _, r := range rows {
		got = append(got, r.ID+":"+r.Result)
	}
	if diff := cmp.Diff([]string{"b:RUNNING", "a:VICTORY_CONFIRMED"}, got); diff != "" {
		t.Fatalf("sessions (-want +got):\n%s", diff)
	}
	if rows[1].Events != 2 || rows[1].Duration != 38*time.Minute || !rows[1].End.Equal(t0.Add(41*time.Minute)) {
		t.Fatalf("row a=%+v", rows[1])
	}

	evs, err := db.Events(ctx, "a")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evs) != 2 || evs[0].Type != "trigger" || evs[1].Payload != `{"lost":49624}` {
		t.Fatalf("events=%+v", evs)
	}
}

func TestSessionDB_Summarize(t *testing.T) {
	db := openTemp(t)
	ctx := context.Background()
	for i, res := range []string{"VICTORY", "DEFEAT", "ABANDONED", "VICTORY_CONFIRMED", "RESET"} {
		id := string(rune('a' + i))
		db.StartSession(id, t0.Add(time.Duration(i)*time.Hour))
		db.EndSession(id, t0.Add(time.Duration(i)*time.Hour+30*time.Minute), res, time.Duration(20+10*i)*time.Minute)
	}
	db.StartSession("running", t0.Add(10*time.Hour))
	if err := db.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	got, err := db.Summarize(ctx)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	want := Summary{
		Total:     4,
		Victories: 2,
		Defeats:   1,
		Abandoned: 1,
		WinRate:   0.5,
		AvgDur:    35 * time.Minute,
		BestDur:   20 * time.Minute,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("summary (-want +got):\n%s", diff)
	}
}

func TestSessionDB_QueueDropStats(t *testing.T) {
	s := &SessionDB{ch: make(chan req, 1)}
	s.StartSession("a", t0)
	s.AppendEvent("a", t0, "trigger", nil)
	s.EndSession("a", t0, "RESET", 0)

	st := s.Stats()
	if st.DropTotal != 2 {
		t.Fatalf("DropTotal=%d want=2", st.DropTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSessionDB_SyncAfterClose(t *testing.T) {
	db := openTemp(t)
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := db.Sync(context.Background()); err != ErrClosed {
		t.Fatalf("sync after close err=%v", err)
	}
	db.StartSession("late", t0)
}

func TestSessionDB_PrepareFailureIsLogged(t *testing.T) {
	raw, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "closed.db"))
	if err != nil {
		t.Fatal(err)
	}
	_ = raw.Close()

	var buf bytes.Buffer
	s := &SessionDB{db: raw, log: slog.New(slog.NewTextHandler(&buf, nil))}
	if st := s.prepare("insert_start", `SELECT 1`); st != nil {
		t.Fatalf("prepare on a closed db must fail")
	}
	if out := buf.String(); !strings.Contains(out, "prepare failed") || !strings.Contains(out, "stmt=insert_start") {
		t.Fatalf("log=%q", out)
	}
}
