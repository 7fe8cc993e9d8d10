package protocol

import "testing"

func TestIsKnownCode(t *testing.T) {
	cases := []string{
		"",
		ErrLowConfidence,
		ErrOutOfRange,
		ErrNoConsensus,
		ErrRuleViolation,
		ErrHallucination,
		ErrDigitShift,
		ErrGhost,
		ErrTransitionDenied,
		ErrUnstable,
		ErrStatsFrozen,
		ErrPersist,
		ErrCapture,
		ErrOCR,
		ErrTemplateMissing,
		ErrUnexplainedSpend,
	}
	for _, c := range cases {
		if !IsKnownCode(c) {
			t.Fatalf("expected known code: %q", c)
		}
	}
	if IsKnownCode("E_NOT_DEFINED") {
		t.Fatalf("expected unknown code rejected")
	}
}

func TestIsKnownAction(t *testing.T) {
	for _, a := range []string{ActionFullReset, ActionForceDay1, ActionSkipToBoss, ActionQuit} {
		if !IsKnownAction(a) {
			t.Fatalf("expected known action: %q", a)
		}
	}
	if IsKnownAction("dance") {
		t.Fatalf("unknown action accepted")
	}
}
