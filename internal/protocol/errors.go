package protocol

// Reason codes attached to rejected readings and doubts in the run log.
const (
	ErrLowConfidence    = "E_LOW_CONFIDENCE"
	ErrOutOfRange       = "E_OUT_OF_RANGE"
	ErrNoConsensus      = "E_NO_CONSENSUS"
	ErrRuleViolation    = "E_RULE_VIOLATION"
	ErrHallucination    = "E_HALLUCINATION"
	ErrDigitShift       = "E_DIGIT_SHIFT"
	ErrGhost            = "E_GHOST"
	ErrTransitionDenied = "E_TRANSITION_DENIED"
	ErrUnstable         = "E_UNSTABLE"
	ErrStatsFrozen      = "E_STATS_FROZEN"
	ErrPersist          = "E_PERSIST"
	ErrCapture          = "E_CAPTURE"
	ErrOCR              = "E_OCR"
	ErrTemplateMissing  = "E_TEMPLATE_MISSING"
	ErrUnexplainedSpend = "E_UNEXPLAINED_SPEND"
)

var knownCodes = map[string]struct{}{
	ErrLowConfidence:    {},
	ErrOutOfRange:       {},
	ErrNoConsensus:      {},
	ErrRuleViolation:    {},
	ErrHallucination:    {},
	ErrDigitShift:       {},
	ErrGhost:            {},
	ErrTransitionDenied: {},
	ErrUnstable:         {},
	ErrStatsFrozen:      {},
	ErrPersist:          {},
	ErrCapture:          {},
	ErrOCR:              {},
	ErrTemplateMissing:  {},
	ErrUnexplainedSpend: {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
