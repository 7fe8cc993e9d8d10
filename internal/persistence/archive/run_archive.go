package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/session"
)

type RunArchiveMeta struct {
	SessionID     string    `json:"session_id"`
	Result        string    `json:"result"`
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	DurationS     float64   `json:"duration_s"`
	MaxPhase      int       `json:"max_phase"`
	DeathCount    int       `json:"death_count"`
	RecoveryCount int       `json:"recovery_count"`
	FinalLevel    int       `json:"final_level"`
	TotalWealth   int       `json:"total_wealth"`
	Files         []string  `json:"files"`
	CreatedAt     string    `json:"created_at"`
}

// SourceFunc lists the files that belong to a finished run.
type SourceFunc func(sessionID string) []string

// Archiver compresses finished runs into `dir/<session_id>/` on its own
// goroutine. It implements session.Archiver.
type Archiver struct {
	dir     string
	sources SourceFunc
	log     *slog.Logger

	ch   chan session.RunSummary
	wg   sync.WaitGroup
	once sync.Once
}

func New(dir string, sources SourceFunc, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	a := &Archiver{dir: dir, sources: sources, log: log, ch: make(chan session.RunSummary, 16)}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for sum := range a.ch {
			if _, err := ArchiveRun(a.dir, sum, a.sources(sum.SessionID)); err != nil {
				a.log.Warn("run archive failed", "session_id", sum.SessionID, "err", err)
			}
		}
	}()
	return a
}

func (a *Archiver) ArchiveRun(sum session.RunSummary) {
	select {
	case a.ch <- sum:
	default:
		a.log.Warn("run archive queue full", "session_id", sum.SessionID)
	}
}

// Close waits for queued archives to finish.
func (a *Archiver) Close() error {
	a.once.Do(func() {
		close(a.ch)
		a.wg.Wait()
	})
	return nil
}

// ArchiveRun writes `<name>.zst` for every existing source file plus a
// meta.json, and returns the archive directory. Missing sources are skipped.
func ArchiveRun(dir string, sum session.RunSummary, sources []string) (string, error) {
	if sum.SessionID == "" {
		return "", errors.New("archive: empty session id")
	}
	out := filepath.Join(dir, sum.SessionID)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return "", err
	}
	meta := RunArchiveMeta{
		SessionID:     sum.SessionID,
		Result:        sum.Result,
		Start:         sum.Start,
		End:           sum.End,
		DurationS:     sum.Duration.Seconds(),
		MaxPhase:      sum.MaxPhase,
		DeathCount:    sum.DeathCount,
		RecoveryCount: sum.RecoveryCount,
		FinalLevel:    sum.FinalLevel,
		TotalWealth:   sum.TotalWealth,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}
	for _, src := range sources {
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			continue
		}
		name := filepath.Base(src) + ".zst"
		if err := compressFile(src, filepath.Join(out, name)); err != nil {
			return "", fmt.Errorf("archive %s: %w", src, err)
		}
		meta.Files = append(meta.Files, name)
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(out, "meta.json"), b, 0o644); err != nil {
		return "", err
	}
	return out, nil
}

func compressFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	if _, err := io.Copy(enc, in); err != nil {
		_ = enc.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return out.Close()
}
