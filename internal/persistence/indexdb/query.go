package indexdb

import (
	"context"
	"database/sql"
	"time"
)

type SessionRow struct {
	ID       string
	Start    time.Time
	End      time.Time
	Result   string
	Duration time.Duration
	Events   int
}

type EventRow struct {
	ID        int64
	SessionID string
	At        time.Time
	Type      string
	Payload   string
}

// Summary aggregates finished sessions. Running sessions are excluded.
type Summary struct {
	Total     int
	Victories int
	Defeats   int
	Abandoned int
	WinRate   float64
	AvgDur    time.Duration
	BestDur   time.Duration
}

func parseTS(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

// RecentSessions returns up to limit sessions, newest first.
func (s *SessionDB) RecentSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.start_time, s.end_time, s.result, s.duration_seconds,
		       (SELECT COUNT(*) FROM events e WHERE e.session_id = s.id)
		FROM sessions s
		ORDER BY s.start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRow
	for rows.Next() {
		var (
			r          SessionRow
			start, end sql.NullString
			dur        float64
		)
		if err := rows.Scan(&r.ID, &start, &end, &r.Result, &dur, &r.Events); err != nil {
			return nil, err
		}
		r.Start = parseTS(start)
		r.End = parseTS(end)
		r.Duration = time.Duration(dur * float64(time.Second))
		out = append(out, r)
	}
	return out, rows.Err()
}

// Events returns the events of one session in insertion order.
func (s *SessionDB) Events(ctx context.Context, sessionID string) ([]EventRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, timestamp, type, payload
		FROM events WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var (
			r  EventRow
			at sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &at, &r.Type, &r.Payload); err != nil {
			return nil, err
		}
		r.At = parseTS(at)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summarize computes win rate and durations over finished sessions.
// VICTORY and VICTORY_CONFIRMED both count as wins; RESET rows are ignored.
func (s *SessionDB) Summarize(ctx context.Context) (Summary, error) {
	var (
		sum      Summary
		totalDur float64
		bestDur  sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN result IN ('VICTORY','VICTORY_CONFIRMED') THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN result = 'DEFEAT' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN result = 'ABANDONED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(duration_seconds), 0),
			MIN(CASE WHEN result IN ('VICTORY','VICTORY_CONFIRMED') THEN duration_seconds END)
		FROM sessions
		WHERE result NOT IN ('RUNNING','RESET')`).
		Scan(&sum.Total, &sum.Victories, &sum.Defeats, &sum.Abandoned, &totalDur, &bestDur)
	if err != nil {
		return Summary{}, err
	}
	if sum.Total > 0 {
		sum.WinRate = float64(sum.Victories) / float64(sum.Total)
		sum.AvgDur = time.Duration(totalDur / float64(sum.Total) * float64(time.Second))
	}
	if bestDur.Valid {
		sum.BestDur = time.Duration(bestDur.Float64 * float64(time.Second))
	}
	return sum, nil
}
