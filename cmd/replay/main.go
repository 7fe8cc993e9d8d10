package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/config"
	persistlog "github.com/jeanroukas/eldenring-timer-sub000/internal/persistence/log"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/patterns"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/session"
)

func main() {
	var (
		journalPath  = flag.String("journal", "", "observation journal (.obs.jsonl or .obs.jsonl.zst)")
		graphPath    = flag.String("graph", "", "graph log to compare the last entry against (optional)")
		patternsPath = flag.String("patterns", "", "patterns.json to score banners with (default: built-in seeds)")
		configPath   = flag.String("config", "", "settings yaml for curve overrides (optional)")
	)
	flag.Parse()

	if *journalPath == "" {
		fmt.Fprintln(os.Stderr, "missing -journal")
		os.Exit(2)
	}

	matcher := patterns.New()
	if *patternsPath != "" {
		m, err := patterns.Load(*patternsPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "patterns:", err)
			os.Exit(1)
		}
		matcher = m.Detached()
	}
	settings := config.Defaults()
	if *configPath != "" {
		store, err := config.Open(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "config:", err)
			os.Exit(1)
		}
		settings = store.Settings()
	}

	res, err := replay(*journalPath, matcher, settings)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay: observations=%d steps=%d sessions=%d graph_entries=%d\n",
		res.observations, res.steps, res.sessions, len(res.graph))

	if *graphPath == "" {
		return
	}
	want, err := lastGraphEntry(*graphPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read graph:", err)
		os.Exit(1)
	}
	if len(res.graph) == 0 {
		fmt.Fprintln(os.Stderr, "replay produced no graph entries")
		os.Exit(1)
	}
	if diff := cmp.Diff(want, res.graph[len(res.graph)-1]); diff != "" {
		fmt.Fprintf(os.Stderr, "last graph entry mismatch (-recorded +replayed):\n%s", diff)
		os.Exit(1)
	}
	fmt.Printf("replay ok: last graph entry t=%d matches\n", want.T)
}

type result struct {
	observations int
	steps        int
	sessions     int
	graph        []session.GraphEntry
}

// graphSink keeps the entries of the current run only.
type graphSink struct {
	entries []session.GraphEntry
}

func (g *graphSink) WriteGraph(e session.GraphEntry) error {
	if e.T == 0 {
		g.entries = g.entries[:0]
	}
	g.entries = append(g.entries, e)
	return nil
}

func (g *graphSink) Flush() error { return nil }

func replay(path string, matcher *patterns.Matcher, s config.Settings) (result, error) {
	var (
		res  result
		now  time.Time
		sink graphSink
	)
	orch := session.New(session.Config{
		Curve:        s.Nightreign,
		Patterns:     matcher,
		SessionCount: s.SessionCount,
		Now:          func() time.Time { return now },
	})
	orch.SetGraphLogger(&sink)
	orch.OnSessionCount(func(int) { res.sessions++ })

	err := persistlog.ReadJSONL(path, func(line []byte) error {
		var rec protocol.ObservationRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil
		}
		if rec.Type == protocol.RecordStep {
			at, err := protocol.DecodeStep(rec)
			if err != nil {
				return err
			}
			now = at
			orch.StepOnce(at)
			res.steps++
			return nil
		}
		obs, err := protocol.DecodeObservation(rec)
		if err != nil {
			return err
		}
		now = obs.ObservedAt()
		orch.HandleObservation(obs)
		res.observations++
		return nil
	})
	if err != nil {
		return res, err
	}
	res.graph = sink.entries
	return res, nil
}

func lastGraphEntry(path string) (session.GraphEntry, error) {
	var (
		last session.GraphEntry
		n    int
	)
	err := persistlog.ReadJSONL(path, func(line []byte) error {
		var e session.GraphEntry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil
		}
		last = e
		n++
		return nil
	})
	if err != nil {
		return session.GraphEntry{}, err
	}
	if n == 0 {
		return session.GraphEntry{}, errors.New("empty graph log")
	}
	return last, nil
}
