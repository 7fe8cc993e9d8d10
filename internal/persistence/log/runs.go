package log

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/session"
)

// RunFiles names the per-run files under a runs directory.
type RunFiles struct{ Dir string }

func (r RunFiles) RunPath(id string) string   { return filepath.Join(r.Dir, id+".jsonl") }
func (r RunFiles) GraphPath(id string) string { return filepath.Join(r.Dir, id+".graph.jsonl") }

// RunRecorder writes the run decision stream and the per-second graph log of
// the active run. It implements session.RunLogger and session.GraphLogger.
type RunRecorder struct {
	files RunFiles

	mu    sync.Mutex
	id    string
	run   *JSONLWriter
	graph *JSONLWriter
}

var ErrNoRun = errors.New("log: no active run")

func NewRunRecorder(dir string) *RunRecorder {
	return &RunRecorder{files: RunFiles{Dir: dir}}
}

func (r *RunRecorder) Files() RunFiles { return r.files }

func (r *RunRecorder) BeginRun(id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.closeLocked(); err != nil {
		return err
	}
	run, err := OpenJSONL(r.files.RunPath(id), true)
	if err != nil {
		return err
	}
	graph, err := OpenJSONL(r.files.GraphPath(id), false)
	if err != nil {
		_ = run.Close()
		return err
	}
	r.id, r.run, r.graph = id, run, graph
	return nil
}

func (r *RunRecorder) WriteRunEvent(e session.RunEvent) error {
	r.mu.Lock()
	w := r.run
	r.mu.Unlock()
	if w == nil {
		return ErrNoRun
	}
	return w.Write(e)
}

func (r *RunRecorder) WriteGraph(e session.GraphEntry) error {
	r.mu.Lock()
	w := r.graph
	r.mu.Unlock()
	if w == nil {
		return ErrNoRun
	}
	return w.Write(e)
}

func (r *RunRecorder) Flush() error {
	r.mu.Lock()
	w := r.graph
	r.mu.Unlock()
	if w == nil {
		return nil
	}
	return w.Flush()
}

func (r *RunRecorder) EndRun() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *RunRecorder) Close() error { return r.EndRun() }

func (r *RunRecorder) closeLocked() error {
	var err error
	if r.run != nil {
		err = errors.Join(err, r.run.Close())
	}
	if r.graph != nil {
		err = errors.Join(err, r.graph.Close())
	}
	r.id, r.run, r.graph = "", nil, nil
	return err
}

// Journal records every observation the orchestrator consumes, plus the
// tick instants, so a run can be replayed exactly. It implements
// session.ObservationJournal.
type Journal struct{ w *JSONLWriter }

func OpenJournal(path string) (*Journal, error) {
	w, err := OpenJSONL(path, false)
	if err != nil {
		return nil, err
	}
	return &Journal{w: w}, nil
}

func (j *Journal) WriteObservation(obs protocol.Observation) error {
	rec, err := protocol.EncodeObservation(obs)
	if err != nil {
		return err
	}
	return j.w.Write(rec)
}

func (j *Journal) WriteStep(at time.Time) error { return j.w.Write(protocol.EncodeStep(at)) }
func (j *Journal) Flush() error                 { return j.w.Flush() }
func (j *Journal) Close() error                 { return j.w.Close() }
func (j *Journal) Path() string                 { return j.w.Path() }
