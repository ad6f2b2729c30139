package planner

import (
	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/planerr"
)

// State is a step of a generation run.
type State string

const (
	StateIdle              State = "idle"
	StateValidating        State = "validating"
	StateBuildingContext   State = "building_context"
	StateComposing         State = "composing"
	StateGenerating        State = "generating"
	StateParsingValidating State = "parsing_validating"
	StatePersisting        State = "persisting"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// Run tracks one GeneratePlan call. It is owned by a single goroutine.
type Run struct {
	RequestID string

	state   State
	kind    planerr.Kind
	history []State
	retries map[State]int
	log     *logger.Logger
}

func newRun(requestID string, log *logger.Logger) *Run {
	return &Run{
		RequestID: requestID,
		state:     StateIdle,
		history:   []State{StateIdle},
		retries:   make(map[State]int),
		log:       log,
	}
}

func (r *Run) to(s State) {
	r.log.Debug("plan generation state", "request_id", r.RequestID, "from", r.state, "to", s)
	r.state = s
	r.history = append(r.history, s)
}

// retry counts another attempt of stage s and returns the new count.
func (r *Run) retry(s State) int {
	r.retries[s]++
	return r.retries[s]
}

func (r *Run) fail(err error) {
	r.kind = planerr.KindOf(err)
	r.log.Warn("plan generation failed",
		"request_id", r.RequestID, "state", r.state, "kind", r.kind, "error", err)
	r.to(StateFailed)
}

func (r *Run) State() State { return r.state }
func (r *Run) Kind() planerr.Kind { return r.kind }
func (r *Run) History() []State { return append([]State(nil), r.history...) }
func (r *Run) Retries(s State) int { return r.retries[s] }
