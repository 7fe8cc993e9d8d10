package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/persistence/indexdb"
	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/session"
)

var sessionsFlags struct {
	limit int
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recent sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var eventsCmd = &cobra.Command{
	Use:   "events <session_id>",
	Short: "Show the run events recorded for one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Win rate and durations over finished sessions",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsFlags.limit, "limit", 20, "number of sessions")
}

func openDB() (*indexdb.SessionDB, error) {
	db, err := indexdb.OpenSQLite(env().SessionsDB(), nil)
	if err != nil {
		return nil, fmt.Errorf("open sessions db: %w", err)
	}
	return db, nil
}

func runSessions(cmd *cobra.Command, _ []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	rows, err := db.RecentSessions(cmd.Context(), sessionsFlags.limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(rows) == 0 {
		fmt.Fprintln(out, "No sessions recorded yet.")
		return nil
	}
	accent.Fprintf(out, "%-36s  %-19s  %-17s  %9s  %6s\n", "SESSION", "START", "RESULT", "DURATION", "EVENTS")
	for _, r := range rows {
		fmt.Fprintf(out, "%-36s  %-19s  ", r.ID, r.Start.Local().Format("2006-01-02 15:04:05"))
		resultColor(r.Result).Fprintf(out, "%-17s", r.Result)
		fmt.Fprintf(out, "  %9s  %6d\n", clock(r.Duration), r.Events)
	}
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	evs, err := db.Events(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(evs) == 0 {
		fmt.Fprintf(out, "No events for session %s\n", args[0])
		return nil
	}
	for _, e := range evs {
		neutral.Fprintf(out, "%s  ", e.At.Local().Format("15:04:05.000"))
		eventColor(e.Type).Fprintf(out, "%-18s", e.Type)
		fmt.Fprintf(out, " %s\n", e.Payload)
	}
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	db, err := openDB()
	if err != nil {
		return err
	}
	defer db.Close()
	sum, err := db.Summarize(cmd.Context())
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), sum)
	return nil
}

func printSummary(out io.Writer, sum indexdb.Summary) {
	fmt.Fprintf(out, "Sessions:   %d\n", sum.Total)
	fmt.Fprint(out, "Victories:  ")
	success.Fprintf(out, "%d\n", sum.Victories)
	fmt.Fprint(out, "Defeats:    ")
	danger.Fprintf(out, "%d\n", sum.Defeats)
	fmt.Fprint(out, "Abandoned:  ")
	warn.Fprintf(out, "%d\n", sum.Abandoned)
	fmt.Fprintf(out, "Win rate:   %.1f%%\n", sum.WinRate*100)
	fmt.Fprintf(out, "Average:    %s\n", clock(sum.AvgDur))
	if sum.BestDur > 0 {
		fmt.Fprintf(out, "Best win:   %s\n", clock(sum.BestDur))
	}
}

func resultColor(result string) *color.Color {
	switch result {
	case session.ResultVictory, session.ResultVictoryConfirmed:
		return success
	case session.ResultDefeat:
		return danger
	case session.ResultAbandoned, session.ResultReset:
		return warn
	}
	return neutral
}

func eventColor(typ string) *color.Color {
	switch typ {
	case session.EventDeath, session.EventPermanentLoss:
		return danger
	case session.EventRecovery, session.EventVictory, session.EventLevelUp:
		return success
	case session.EventOCRDoubt, session.EventSpendingReverted:
		return warn
	case session.EventPhaseChange, session.EventTrigger:
		return accent
	}
	return neutral
}

// clock formats a duration as h:mm:ss.
func clock(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}
