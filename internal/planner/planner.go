// Package planner runs the plan generation pipeline: validate the request,
// build the planning context, compose prompts, generate, validate the model
// output and persist the plan.
package planner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maxibaudrix/Kiui/internal/llm"
	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/metrics"
	"github.com/maxibaudrix/Kiui/internal/notify"
	"github.com/maxibaudrix/Kiui/internal/onboarding"
	"github.com/maxibaudrix/Kiui/internal/plan"
	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/planning"
	"github.com/maxibaudrix/Kiui/internal/shared"
	"github.com/maxibaudrix/Kiui/internal/validator"
)

// Request is one plan generation request.
type Request struct {
	UserID      string
	RequestID   string
	Payload     onboarding.Payload
	Locale      string
	RequestType string
}

// Result summarizes a persisted plan.
type Result struct {
	PlanID     string
	TotalWeeks int
	StartDate  string
	EndDate    string
	Stats      planning.OverallStats
	Usage      shared.TokenUsage
	Attempts   int
}

// Deps are the pipeline stages and stores a Planner drives.
type Deps struct {
	Builder   *onboarding.Builder
	Strategy  Strategy
	Invoker   Invoker
	Validator *validator.Validator
	Plans     plan.Store
	Logs      metrics.LogStore
}

type Option func(*Planner)

func WithLogger(l *logger.Logger) Option {
	return func(p *Planner) { p.log = l }
}

func WithNotifier(n notify.Notifier) Option {
	return func(p *Planner) { p.notifier = n }
}

func WithCollectors(c *metrics.Collectors) Option {
	return func(p *Planner) { p.collectors = c }
}

// WithRequestTimeout bounds a whole run. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Planner) { p.requestTimeout = d }
}

// WithParseRetries sets how many corrective re-generations follow a rejected
// model response.
func WithParseRetries(n int) Option {
	return func(p *Planner) { p.parseRetries = n }
}

// Planner handles the generation of training and nutrition plans.
type Planner struct {
	Deps
	log            *logger.Logger
	notifier       notify.Notifier
	collectors     *metrics.Collectors
	requestTimeout time.Duration
	parseRetries   int
}

func New(d Deps, opts ...Option) *Planner {
	p := &Planner{
		Deps:           d,
		log:            logger.Nop(),
		notifier:       notify.Nop{},
		requestTimeout: 60 * time.Second,
		parseRetries:   1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GeneratePlan runs the pipeline once. On success the plan is stored as the
// user's active plan; on failure nothing is stored and the error is a
// *planerr.Error tagged with the failing stage.
func (p *Planner) GeneratePlan(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	run := newRun(req.RequestID, p.log)
	if req.RequestType == "" {
		req.RequestType = metrics.RequestTrainingPlan
	}

	if p.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.requestTimeout)
		defer cancel()
	}

	var usage []shared.AgentMeta
	res, err := p.generate(ctx, run, req, &usage)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !planerr.Is(err, planerr.KindTransient) {
			err = timedOut(err)
		}
		run.fail(err)
		p.recordFailure(ctx, run, req, err, usage, time.Since(start))
		return Result{}, err
	}

	run.to(StateCompleted)
	p.observe(metrics.OutcomeSuccess, "", time.Since(start))
	p.log.Info("plan generated",
		"request_id", req.RequestID, "user_id", req.UserID, "plan_id", res.PlanID,
		"weeks", res.TotalWeeks, "strategy", p.Strategy.Name(), "attempts", res.Attempts,
		"duration", time.Since(start))
	return res, nil
}

func (p *Planner) generate(ctx context.Context, run *Run, req Request, usage *[]shared.AgentMeta) (Result, error) {
	start := time.Now()

	run.to(StateValidating)
	if req.UserID == "" {
		return Result{}, planerr.WithStage(planerr.Validation("missing user", "userId"), planerr.StageValidate)
	}
	if !p.Invoker.HasCredential() {
		return Result{}, planerr.WithStage(
			planerr.Config("no generation service credential configured", llm.ErrMissingCredential), planerr.StageValidate)
	}

	run.to(StateBuildingContext)
	pctx, err := p.Builder.Build(req.Payload, req.UserID, req.Locale)
	if err != nil {
		return Result{}, planerr.WithStage(err, planerr.StageBuildContext)
	}
	if err := p.checkNoActivePlan(ctx, req.UserID); err != nil {
		return Result{}, planerr.WithStage(err, planerr.StageBuildContext)
	}

	run.to(StateComposing)
	job, err := p.Strategy.Compose(pctx)
	if err != nil {
		return Result{}, planerr.WithStage(planerr.Wrap(planerr.KindInternal, "failed to compose prompts", err), planerr.StageCompose)
	}

	out, err := p.generateValid(ctx, run, pctx, job, usage)
	if err != nil {
		return Result{}, err
	}

	run.to(StatePersisting)
	total := shared.SumUsage(*usage)
	attempts := totalAttempts(*usage)
	logEntry := metrics.GenerationLog{
		RequestID:       req.RequestID,
		RequestType:     req.RequestType,
		Attempts:        attempts,
		DurationMS:      time.Since(start).Milliseconds(),
		ResponseSummary: summarize(out),
	}.FromUsage(total)

	planID, err := p.Plans.Persist(ctx, plan.PersistRequest{
		UserID:  req.UserID,
		Context: pctx,
		Output:  out,
		Log:     logEntry,
	})
	if err != nil {
		return Result{}, planerr.WithStage(err, planerr.StagePersist)
	}

	return Result{
		PlanID:     planID,
		TotalWeeks: out.TotalWeeks,
		StartDate:  out.StartDate,
		EndDate:    out.EndDate,
		Stats:      out.OverallStats,
		Usage:      total,
		Attempts:   attempts,
	}, nil
}

// generateValid generates a candidate and validates it, re-generating with a
// corrective prompt up to parseRetries times. A candidate still rejected after
// that is a permanent failure.
func (p *Planner) generateValid(ctx context.Context, run *Run, pctx planning.UserPlanningContext, job Job, usage *[]shared.AgentMeta) (*planning.CompletePlanningOutput, error) {
	for {
		run.to(StateGenerating)
		gen, err := p.Strategy.Generate(ctx, job)
		*usage = append(*usage, gen.Metas...)

		var out *planning.CompletePlanningOutput
		var violations []string
		if err == nil {
			run.to(StateParsingValidating)
			out, err = p.Validator.ParseAndValidate(gen.Raw, pctx)
			if err == nil {
				return out, nil
			}
			for _, v := range p.Validator.ValidateAll(gen.Raw, pctx) {
				violations = append(violations, v.String())
			}
		}

		pe, ok := planerr.As(err)
		if !ok || pe.Kind != planerr.KindParse {
			return nil, planerr.WithStage(err, planerr.StageGenerate)
		}
		if n := run.retry(StateParsingValidating); n > p.parseRetries {
			return nil, planerr.WithStage(
				planerr.Permanent("model output failed validation after correction", pe), planerr.StageParse)
		}

		p.log.Warn("model output rejected, retrying with correction",
			"request_id", run.RequestID, "path", pe.Path, "reason", reason(pe),
			"violation_count", len(violations), "violations", violations)
		if job, err = p.Strategy.Correct(job, reason(pe), pe.Path); err != nil {
			return nil, planerr.WithStage(planerr.Wrap(planerr.KindInternal, "failed to compose corrective prompt", err), planerr.StageCompose)
		}
	}
}

// checkNoActivePlan fails early with a Conflict when the user already has an
// active plan. Lookup errors are logged and left to the persist transaction.
func (p *Planner) checkNoActivePlan(ctx context.Context, userID string) error {
	rec, err := p.Plans.GetActive(ctx, userID)
	switch {
	case err == nil:
		return planerr.Conflict(rec.ID)
	case planerr.Is(err, planerr.KindNotFound):
		return nil
	default:
		p.log.Warn("active plan pre-check failed", "user_id", userID, "error", err)
		return nil
	}
}

// recordFailure writes the failure log entry, alerts the operator and counts
// the outcome. None of it can change the returned error.
func (p *Planner) recordFailure(ctx context.Context, run *Run, req Request, err error, usage []shared.AgentMeta, d time.Duration) {
	kind := planerr.KindOf(err)
	p.observe(metrics.OutcomeFailure, kind.String(), d)

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	entry := metrics.GenerationLog{
		UserID:      req.UserID,
		RequestID:   req.RequestID,
		RequestType: req.RequestType,
		Attempts:    totalAttempts(usage),
		DurationMS:  d.Milliseconds(),
		Success:     false,
		Error:       err.Error(),
	}.FromUsage(shared.SumUsage(usage))
	if req.UserID != "" {
		if logErr := p.Logs.Append(bg, entry); logErr != nil {
			p.log.Error("failed to record generation failure", "request_id", req.RequestID, "error", logErr)
		}
	}

	if !alertable(kind) {
		return
	}
	var stage string
	if pe, ok := planerr.As(err); ok {
		stage = string(pe.Stage)
	}
	if nErr := p.notifier.NotifyFailure(bg, notify.Failure{
		Kind:      kind.String(),
		Stage:     stage,
		UserID:    req.UserID,
		RequestID: req.RequestID,
	}); nErr != nil {
		p.log.Warn("failed to notify operator", "request_id", req.RequestID, "error", nErr)
	}
}

func (p *Planner) observe(outcome, kind string, d time.Duration) {
	if p.collectors != nil {
		p.collectors.ObserveGeneration(outcome, kind, d)
	}
}

// alertable reports whether a failure is the service's fault rather than the
// caller's.
func alertable(k planerr.Kind) bool {
	switch k {
	case planerr.KindValidation, planerr.KindConflict, planerr.KindUnauthenticated, planerr.KindNotFound:
		return false
	}
	return true
}

func timedOut(err error) error {
	te := planerr.Transient("request timed out", err)
	if pe, ok := planerr.As(err); ok {
		te.Stage = pe.Stage
	}
	return te
}

func reason(pe *planerr.Error) string {
	if pe.Err != nil {
		return pe.Message + ": " + pe.Err.Error()
	}
	return pe.Message
}

func totalAttempts(metas []shared.AgentMeta) int {
	n := 0
	for _, m := range metas {
		n += m.Attempts
	}
	return n
}

func summarize(out *planning.CompletePlanningOutput) string {
	return fmt.Sprintf("%d weeks %s..%s, %d training days, %d rest days",
		out.TotalWeeks, out.StartDate, out.EndDate,
		out.OverallStats.TotalTrainingDays, out.OverallStats.TotalRestDays)
}
