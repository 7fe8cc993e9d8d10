package session

import (
	"time"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/protocol"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/patterns"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/phases"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/rules"
)

const (
	bannerWindow    = 2500 * time.Millisecond
	bannerCooldown  = 4 * time.Second
	stabilityWindow = 1200 * time.Millisecond
	fuzzyDayScore   = 80
	denyWarnEvery   = 10 * time.Second

	day1MinSpan   = 800 * time.Millisecond
	day1MinHits   = 3
	day1MinSum    = 250
	day1SingleHit = 300
	day2MinHits   = 3
	day2MinSum    = 240
	day3MinHits   = 2
	day3MinSum    = 100
	waitingMinSum = 80
)

type bannerHit struct {
	at     time.Time
	tag    string
	score  int
	strict string
}

func tagDay(tag string) int {
	switch tag {
	case patterns.TagDay1:
		return 1
	case patterns.TagDay2:
		return 2
	case patterns.TagDay3:
		return 3
	}
	return 0
}

func dayTag(day int) string {
	switch day {
	case 1:
		return patterns.TagDay1
	case 2:
		return patterns.TagDay2
	case 3:
		return patterns.TagDay3
	}
	return ""
}

type bannerCandidate struct {
	tag   string
	base  int
	score int
}

// scoreBanner scores the pattern match and the fuzzy day promotion
// separately, each with its own transition penalty, and keeps the stronger.
// When the two disagree, strict names the other tag so its consensus
// thresholds also apply.
func (o *Orchestrator) scoreBanner(b protocol.BannerRead, now time.Time) (bannerCandidate, string) {
	phase := o.machine.Index()
	penalized := func(tag string, base int) bannerCandidate {
		pen := rules.TransitionPenalty(tagDay(tag), phase, o.sess.CurrentRunes, o.runElapsed(now))
		return bannerCandidate{tag: tag, base: base, score: base + pen}
	}
	res := o.matcher.Evaluate(b.Text, patterns.Hints{
		WidthPx:        b.WidthPx,
		CenterOffsetPx: b.CenterOffsetPx,
		HasGeometry:    b.HasGeometry,
		Words:          b.Words,
	})
	var pat, fuzzy bannerCandidate
	if tagDay(res.Tag) != 0 {
		pat = penalized(res.Tag, res.Score)
	}
	if day, ok := rules.FuzzyDayFromText(b.Text, phase); ok {
		fuzzy = penalized(dayTag(day), fuzzyDayScore)
	}
	switch {
	case pat.tag == "":
		return fuzzy, ""
	case fuzzy.tag == "":
		return pat, ""
	case pat.tag == fuzzy.tag:
		if fuzzy.score > pat.score {
			return fuzzy, ""
		}
		return pat, ""
	case fuzzy.score > pat.score:
		return fuzzy, pat.tag
	}
	return pat, fuzzy.tag
}

func (o *Orchestrator) handleBanner(b protocol.BannerRead) {
	s := o.sess
	now := b.At
	if b.Text != "" {
		s.lastBanner = b.Text
	}
	o.pruneBanners(now)
	if now.Before(s.cooldownUntil) {
		return
	}
	cand, strict := o.scoreBanner(b, now)
	tag, score := cand.tag, cand.score
	day := tagDay(tag)
	if day == 0 {
		return
	}
	phase := o.machine.Index()
	if score < patterns.MinScore {
		if cand.base >= patterns.MinScore {
			o.warnDenied(now, tag, "penalized", map[string]any{"text": b.Text, "base": cand.base, "penalty": score - cand.base})
		}
		return
	}
	s.banners = append(s.banners, bannerHit{at: now, tag: tag, score: score, strict: strict})
	if !o.bannerConsensus(tag, now) {
		return
	}
	if !s.LastStatChange.IsZero() && now.Sub(s.LastStatChange) < stabilityWindow {
		o.log.Debug("banner consensus held by stability gate", "tag", tag)
		return
	}
	in := rules.TransitionInput{
		TargetDay:    day,
		Phase:        phase,
		Level:        s.CurrentLevel,
		Runes:        s.CurrentRunes,
		Elapsed:      o.runElapsed(now),
		LastBlackEnd: s.LastBlackEnd,
		Now:          now,
		Startup:      phase == phases.Waiting,
	}
	if !rules.TransitionAllowed(in) {
		o.warnDenied(now, tag, "denied", map[string]any{"text": b.Text, "level": s.CurrentLevel, "runes": s.CurrentRunes})
		o.dropBanners(tag)
		return
	}
	if o.triggerDay(day, now, "banner") {
		o.sess.cooldownUntil = now.Add(bannerCooldown)
		o.sess.banners = nil
	}
}

func (o *Orchestrator) pruneBanners(now time.Time) {
	s := o.sess
	kept := s.banners[:0]
	for _, h := range s.banners {
		if now.Sub(h.at) <= bannerWindow {
			kept = append(kept, h)
		}
	}
	s.banners = kept
}

func (o *Orchestrator) dropBanners(tag string) {
	s := o.sess
	kept := s.banners[:0]
	for _, h := range s.banners {
		if h.tag != tag {
			kept = append(kept, h)
		}
	}
	s.banners = kept
}

func (o *Orchestrator) bannerConsensus(tag string, now time.Time) bool {
	var (
		hits   int
		sum    int
		best   int
		first  time.Time
		strict string
	)
	for _, h := range o.sess.banners {
		if h.tag != tag {
			continue
		}
		if hits == 0 {
			first = h.at
		}
		hits++
		sum += h.score
		best = max(best, h.score)
		if h.strict != "" {
			strict = h.strict
		}
	}
	if hits == 0 {
		return false
	}
	span := now.Sub(first)
	if !o.meetsConsensus(tag, hits, sum, best, span) {
		return false
	}
	return strict == "" || o.meetsConsensus(strict, hits, sum, best, span)
}

func (o *Orchestrator) meetsConsensus(tag string, hits, sum, best int, span time.Duration) bool {
	switch tag {
	case patterns.TagDay1:
		if o.sess.WaitingForDay1 && sum >= waitingMinSum {
			return true
		}
		if best >= day1SingleHit {
			return true
		}
		return span >= day1MinSpan && hits >= day1MinHits && sum > day1MinSum
	case patterns.TagDay2:
		return hits >= day2MinHits && sum > day2MinSum
	case patterns.TagDay3:
		return hits >= day3MinHits && sum > day3MinSum
	}
	return false
}

// warnDenied logs a rejected banner decision at most every denyWarnEvery.
func (o *Orchestrator) warnDenied(now time.Time, tag, why string, data map[string]any) {
	s := o.sess
	if !s.lastDenyWarn.IsZero() && now.Sub(s.lastDenyWarn) < denyWarnEvery {
		return
	}
	s.lastDenyWarn = now
	o.log.Warn("banner transition rejected", "tag", tag, "why", why, "code", protocol.ErrTransitionDenied)
	data["tag"] = tag
	data["why"] = why
	o.runEvent(now, EventOCRDoubt, protocol.ErrTransitionDenied, data)
}
