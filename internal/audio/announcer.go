// Package audio serializes spoken cues onto one worker goroutine.
package audio

import (
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

// Speaker renders one utterance and returns when it has finished.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Announcer queues texts without blocking the caller and speaks them one at
// a time. Nothing is dropped; a slow speaker only delays later cues.
type Announcer struct {
	speaker Speaker
	log     *slog.Logger

	mu      sync.Mutex
	queue   []string
	enabled bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func NewAnnouncer(sp Speaker, log *slog.Logger) *Announcer {
	if log == nil {
		log = slog.Default()
	}
	return &Announcer{
		speaker: sp,
		log:     log,
		enabled: true,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (a *Announcer) Announce(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	if a.closed || !a.enabled {
		a.mu.Unlock()
		return
	}
	a.queue = append(a.queue, text)
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// SetEnabled is wired to the audio_enabled setting.
func (a *Announcer) SetEnabled(on bool) {
	a.mu.Lock()
	a.enabled = on
	if !on {
		a.queue = nil
	}
	a.mu.Unlock()
}

func (a *Announcer) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Run speaks queued texts until ctx is done or Close drains the queue.
func (a *Announcer) Run(ctx context.Context) error {
	defer close(a.done)
	for {
		text, ok, closed := a.next()
		if ok {
			if err := a.speaker.Speak(ctx, text); err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("speak failed", "text", text, "err", err)
			}
			continue
		}
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-a.wake:
		}
	}
}

func (a *Announcer) next() (text string, ok, closed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.queue) == 0 {
		return "", false, a.closed
	}
	text = a.queue[0]
	a.queue = a.queue[1:]
	return text, true, false
}

// Close stops accepting texts; Run returns after speaking what is queued.
func (a *Announcer) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

// Done is closed when Run has returned.
func (a *Announcer) Done() <-chan struct{} { return a.done }

// CommandSpeaker runs an external TTS command (espeak-compatible flags).
type CommandSpeaker struct {
	Bin    string
	Voice  string
	Rate   int
	Volume int // 0..100
}

func (c CommandSpeaker) args(text string) []string {
	var args []string
	if c.Voice != "" {
		args = append(args, "-v", c.Voice)
	}
	if c.Rate > 0 {
		args = append(args, "-s", strconv.Itoa(c.Rate))
	}
	// espeak amplitude is 0..200.
	args = append(args, "-a", strconv.Itoa(min(max(c.Volume, 0), 100)*2))
	return append(args, text)
}

func (c CommandSpeaker) Speak(ctx context.Context, text string) error {
	return exec.CommandContext(ctx, c.Bin, c.args(text)...).Run()
}

// LogSpeaker writes cues to a logger; used when no TTS binary is configured.
type LogSpeaker struct{ Log *slog.Logger }

func (l LogSpeaker) Speak(_ context.Context, text string) error {
	l.Log.Info("announce", "text", text)
	return nil
}
