package syncer

import (
	"time"

	"signalsync/internal/models"
)

type Mode string

const (
	ModeFull Mode = "full"
	ModePush Mode = "push"
	ModePull Mode = "pull"
)

// ParseMode accepts the API spellings of a cycle mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "both", "full", "all":
		return ModeFull, true
	case "push":
		return ModePush, true
	case "pull":
		return ModePull, true
	}
	return "", false
}

// CycleOptions selects what a cycle does.
type CycleOptions struct {
	Mode  Mode
	Types []models.EntityType
	Actor string
}

// PhaseResult holds the counters of one direction of a cycle.
type PhaseResult struct {
	Successes map[string]int `json:"successes"`
	Errors    map[string]int `json:"errors"`
	Skipped   int            `json:"skipped"`
	Error     string         `json:"error,omitempty"`
}

// Result is the report of one cycle. It is built once the phases are done
// and not mutated afterwards.
type Result struct {
	Mode         Mode        `json:"mode"`
	Success      bool        `json:"success"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Push         PhaseResult `json:"push"`
	Pull         PhaseResult `json:"pull"`
	StartedAt    time.Time   `json:"started_at"`
	FinishedAt   time.Time   `json:"finished_at"`
}

// SuccessCounts merges both phases into one map keyed push_<category> and pull_<category>.
func (r *Result) SuccessCounts() map[string]int {
	return prefixed(r.Push.Successes, r.Pull.Successes)
}

// ErrorCounts is SuccessCounts for the error counters.
func (r *Result) ErrorCounts() map[string]int {
	return prefixed(r.Push.Errors, r.Pull.Errors)
}

func prefixed(push, pull map[string]int) map[string]int {
	out := make(map[string]int, len(push)+len(pull))
	for k, v := range push {
		out["push_"+k] += v
	}
	for k, v := range pull {
		out["pull_"+k] += v
	}
	return out
}

func (r *Result) TotalSuccess() int {
	return sum(r.Push.Successes) + sum(r.Pull.Successes)
}

func (r *Result) TotalErrors() int {
	return sum(r.Push.Errors) + sum(r.Pull.Errors)
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}

// outcome is what a single per-entity operation reports back to its phase.
type outcome struct {
	counter string
	failed  bool
	skipped bool
	err     error
}

func success(counter string) outcome {
	return outcome{counter: counter}
}

func failure(counter string, err error) outcome {
	return outcome{counter: counter, failed: true, err: err}
}

func skipped() outcome {
	return outcome{skipped: true}
}

// fold builds a PhaseResult from collected outcomes.
func fold(outcomes []outcome) PhaseResult {
	p := PhaseResult{Successes: map[string]int{}, Errors: map[string]int{}}
	for _, o := range outcomes {
		switch {
		case o.skipped:
			p.Skipped++
		case o.failed:
			p.Errors[o.counter]++
		default:
			p.Successes[o.counter]++
		}
	}
	return p
}
