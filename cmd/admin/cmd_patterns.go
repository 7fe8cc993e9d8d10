package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeanroukas/eldenring-timer-sub000/internal/sim/patterns"
)

var patternsFlags struct {
	tag string
}

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Inspect and edit the learned banner patterns",
}

var patternsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print every pattern with its target and weight",
	Args:  cobra.NoArgs,
	RunE:  runPatternsShow,
}

var patternsLearnCmd = &cobra.Command{
	Use:   "learn <text> <target>",
	Short: "Reinforce text as a reading of target (DAY 1, DAY 2, DAY 3, VICTORY)",
	Args:  cobra.ExactArgs(2),
	RunE:  runPatternsLearn,
}

var patternsPunishCmd = &cobra.Command{
	Use:   "punish <text>",
	Short: "Weaken every pattern contained in text",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatternsPunish,
}

var patternsEvalCmd = &cobra.Command{
	Use:   "eval <text>",
	Short: "Score text as a banner reading without geometry",
	Args:  cobra.ExactArgs(1),
	RunE:  runPatternsEval,
}

func init() {
	patternsShowCmd.Flags().StringVar(&patternsFlags.tag, "tag", "", "only show patterns for this target")
	patternsCmd.AddCommand(patternsShowCmd, patternsLearnCmd, patternsPunishCmd, patternsEvalCmd)
}

func loadPatterns() (*patterns.Matcher, error) {
	m, err := patterns.Load(env().PatternsPath())
	if err != nil {
		return nil, fmt.Errorf("load patterns: %w", err)
	}
	return m, nil
}

func runPatternsShow(cmd *cobra.Command, _ []string) error {
	m, err := loadPatterns()
	if err != nil {
		return err
	}
	snap := m.Snapshot()
	keys := make([]string, 0, len(snap))
	for k, e := range snap {
		if patternsFlags.tag != "" && !strings.EqualFold(e.Target, patternsFlags.tag) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := snap[keys[i]], snap[keys[j]]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		return keys[i] < keys[j]
	})
	out := cmd.OutOrStdout()
	accent.Fprintf(out, "%-24s  %-8s  %6s\n", "PATTERN", "TARGET", "WEIGHT")
	for _, k := range keys {
		e := snap[k]
		fmt.Fprintf(out, "%-24q  %-8s  %6d\n", k, e.Target, e.Weight)
	}
	st := m.Stats()
	neutral.Fprintf(out, "%d patterns, learned=%d punished=%d deleted=%d\n", len(keys), st.Learned, st.Punished, st.Deleted)
	return nil
}

func validTarget(t string) (string, bool) {
	t = strings.ToUpper(strings.TrimSpace(t))
	switch t {
	case patterns.TagDay1, patterns.TagDay2, patterns.TagDay3, patterns.TagVictory:
		return t, true
	}
	return "", false
}

func runPatternsLearn(cmd *cobra.Command, args []string) error {
	target, ok := validTarget(args[1])
	if !ok {
		return fmt.Errorf("unknown target %q", args[1])
	}
	m, err := loadPatterns()
	if err != nil {
		return err
	}
	if err := m.Learn(args[0], target); err != nil {
		return err
	}
	success.Fprintf(cmd.OutOrStdout(), "learned %q as %s\n", args[0], target)
	return nil
}

func runPatternsPunish(cmd *cobra.Command, args []string) error {
	m, err := loadPatterns()
	if err != nil {
		return err
	}
	before := len(m.Snapshot())
	if err := m.Punish(args[0]); err != nil {
		return err
	}
	warn.Fprintf(cmd.OutOrStdout(), "punished %q (%d patterns removed)\n", args[0], before-len(m.Snapshot()))
	return nil
}

func runPatternsEval(cmd *cobra.Command, args []string) error {
	m, err := loadPatterns()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	res := m.Evaluate(args[0], patterns.Hints{})
	if res.Tag == "" {
		res = m.EvaluateVictory(args[0])
	}
	if res.Tag == "" {
		danger.Fprintf(out, "no match (best score %d)\n", res.Score)
		return nil
	}
	success.Fprintf(out, "%s", res.Tag)
	fmt.Fprintf(out, " score=%d pattern=%q\n", res.Score, res.Pattern)
	return nil
}
