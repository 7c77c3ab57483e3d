package command

// Outcome classifies the result of one transport attempt.
type Outcome int

const (
	// OutcomeOK means the transport accepted the command.
	OutcomeOK Outcome = iota
	// OutcomeRecoverable means another transport may still succeed.
	OutcomeRecoverable
	// OutcomeTerminal means the command cannot succeed in this invocation.
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeRecoverable:
		return "recoverable"
	default:
		return "terminal"
	}
}

// Stage is a step of the dispatch state machine.
type Stage int

const (
	StageCloud Stage = iota
	StageRadio
	StageDone
)

// Transport returns the transport name used in telemetry and results.
func (s Stage) Transport() string {
	switch s {
	case StageCloud:
		return "cloud"
	case StageRadio:
		return "radio"
	default:
		return ""
	}
}

// stageResult is the outcome of one stage and the error behind it.
type stageResult struct {
	outcome Outcome
	err     error
}

func stageOK() stageResult { return stageResult{outcome: OutcomeOK} }

func stageRecoverable(err error) stageResult {
	return stageResult{outcome: OutcomeRecoverable, err: err}
}

func stageTerminal(err error) stageResult {
	return stageResult{outcome: OutcomeTerminal, err: err}
}

// nextStage decides where dispatch goes after a stage. Only a recoverable
// cloud failure moves on, and only when a radio fallback exists.
func nextStage(current Stage, outcome Outcome, fallback bool) Stage {
	if current == StageCloud && outcome == OutcomeRecoverable && fallback {
		return StageRadio
	}
	return StageDone
}
