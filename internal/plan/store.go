// Package plan stores generated plans, at most one active per user.
package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/maxibaudrix/Kiui/internal/metrics"
	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/planning"
)

const (
	StatusActive   = "active"
	StatusArchived = "archived"
)

// Record is a stored plan.
type Record struct {
	ID         string                          `json:"id"`
	UserID     string                          `json:"userId"`
	Status     string                          `json:"status"`
	StartDate  string                          `json:"startDate"`
	EndDate    string                          `json:"endDate"`
	TotalWeeks int                             `json:"totalWeeks"`
	Context    planning.UserPlanningContext    `json:"context"`
	Output     planning.CompletePlanningOutput `json:"output"`
	CreatedAt  time.Time                       `json:"createdAt"`
	ArchivedAt *time.Time                      `json:"archivedAt,omitempty"`
}

// PersistRequest is a validated plan and the success log entry written with it.
type PersistRequest struct {
	UserID  string
	Context planning.UserPlanningContext
	Output  *planning.CompletePlanningOutput
	Log     metrics.GenerationLog
}

// Store persists plans. Persist either stores the plan and its log entry
// together or neither; an existing active plan yields a Conflict error
// carrying that plan's id.
type Store interface {
	Persist(ctx context.Context, req PersistRequest) (string, error)
	GetActive(ctx context.Context, userID string) (*Record, error)
	Get(ctx context.Context, planID string) (*Record, error)
	Archive(ctx context.Context, userID string) (string, error)
}

var errNotFound = planerr.New(planerr.KindNotFound, "plan not found")

func encode(req PersistRequest) (ctxJSON, outJSON []byte, err error) {
	if req.Output == nil {
		return nil, nil, planerr.Persistence("nothing to persist", nil)
	}
	if ctxJSON, err = json.Marshal(req.Context); err != nil {
		return nil, nil, planerr.Persistence("failed to encode plan context", err)
	}
	if outJSON, err = json.Marshal(req.Output); err != nil {
		return nil, nil, planerr.Persistence("failed to encode plan", err)
	}
	return ctxJSON, outJSON, nil
}

func decode(rec *Record, ctxJSON, outJSON []byte) error {
	if err := json.Unmarshal(ctxJSON, &rec.Context); err != nil {
		return fmt.Errorf("failed to decode plan context: %w", err)
	}
	if err := json.Unmarshal(outJSON, &rec.Output); err != nil {
		return fmt.Errorf("failed to decode plan: %w", err)
	}
	return nil
}

func successLog(req PersistRequest, planID string) metrics.GenerationLog {
	l := req.Log
	l.UserID = req.UserID
	l.PlanID = planID
	l.Success = true
	if l.RequestType == "" {
		l.RequestType = metrics.RequestTrainingPlan
	}
	return l
}
