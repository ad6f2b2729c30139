package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/maxibaudrix/Kiui/internal/config"
	"github.com/maxibaudrix/Kiui/internal/llm"
	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/planning"
	"github.com/maxibaudrix/Kiui/internal/prompt"
	"github.com/maxibaudrix/Kiui/internal/shared"
	"github.com/maxibaudrix/Kiui/internal/validator"
)

// Invoker is the model-call surface the strategies need.
type Invoker interface {
	Invoke(ctx context.Context, req llm.Request) (llm.Result, error)
	HasCredential() bool
}

// Job is the set of prompts one generation round sends.
type Job struct {
	Prompts []prompt.Prompts
}

// Generation is the raw candidate plan of one round.
type Generation struct {
	Raw   string
	Metas []shared.AgentMeta
}

// Strategy decides how a plan is requested from the model.
type Strategy interface {
	Name() string
	Compose(pctx planning.UserPlanningContext) (Job, error)
	Generate(ctx context.Context, job Job) (Generation, error)
	// Correct extends job with the reason the previous candidate was rejected.
	Correct(job Job, reason, path string) (Job, error)
}

// NewStrategy returns the strategy named by cfg.Strategy.
func NewStrategy(cfg *config.Config, composer *prompt.Composer, inv Invoker) (Strategy, error) {
	opts := llm.Options{
		Temperature:     cfg.Generation.Temperature,
		TopP:            cfg.Generation.TopP,
		TopK:            cfg.Generation.TopK,
		MaxOutputTokens: cfg.Generation.MaxOutputTokens,
		Timeout:         cfg.Generation.Timeout,
	}
	switch cfg.Strategy {
	case config.StrategyCombined, "":
		return &CombinedStrategy{composer: composer, invoker: inv, opts: opts}, nil
	case config.StrategySplit:
		return &SplitStrategy{composer: composer, invoker: inv, opts: opts}, nil
	default:
		return nil, fmt.Errorf("unknown generation strategy %q", cfg.Strategy)
	}
}

// CombinedStrategy requests training and nutrition in a single call.
type CombinedStrategy struct {
	composer *prompt.Composer
	invoker  Invoker
	opts     llm.Options
}

func (s *CombinedStrategy) Name() string { return config.StrategyCombined }

func (s *CombinedStrategy) Compose(pctx planning.UserPlanningContext) (Job, error) {
	p, err := s.composer.Compose(pctx)
	if err != nil {
		return Job{}, err
	}
	return Job{Prompts: []prompt.Prompts{p}}, nil
}

func (s *CombinedStrategy) Generate(ctx context.Context, job Job) (Generation, error) {
	meta, text, err := invoke(ctx, s.invoker, "combined", job.Prompts[0], s.opts)
	if err != nil {
		return Generation{Metas: []shared.AgentMeta{meta}}, err
	}
	return Generation{Raw: text, Metas: []shared.AgentMeta{meta}}, nil
}

func (s *CombinedStrategy) Correct(job Job, reason, path string) (Job, error) {
	return correctAll(s.composer, job, reason, path)
}

// SplitStrategy requests training and nutrition in two concurrent calls and
// merges the nutrition into the training plan by date. A failure of either
// call cancels the other.
type SplitStrategy struct {
	composer *prompt.Composer
	invoker  Invoker
	opts     llm.Options
}

func (s *SplitStrategy) Name() string { return config.StrategySplit }

func (s *SplitStrategy) Compose(pctx planning.UserPlanningContext) (Job, error) {
	training, err := s.composer.ComposeTraining(pctx)
	if err != nil {
		return Job{}, err
	}
	nutrition, err := s.composer.ComposeNutrition(pctx)
	if err != nil {
		return Job{}, err
	}
	return Job{Prompts: []prompt.Prompts{training, nutrition}}, nil
}

func (s *SplitStrategy) Generate(ctx context.Context, job Job) (Generation, error) {
	metas := make([]shared.AgentMeta, 2)
	var trainingRaw, nutritionRaw string

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		metas[0], trainingRaw, err = invoke(gctx, s.invoker, "training", job.Prompts[0], s.opts)
		return err
	})
	g.Go(func() error {
		var err error
		metas[1], nutritionRaw, err = invoke(gctx, s.invoker, "nutrition", job.Prompts[1], s.opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return Generation{Metas: metas}, err
	}

	merged, err := mergeHalves(trainingRaw, nutritionRaw)
	if err != nil {
		return Generation{Metas: metas}, err
	}
	return Generation{Raw: merged, Metas: metas}, nil
}

func (s *SplitStrategy) Correct(job Job, reason, path string) (Job, error) {
	return correctAll(s.composer, job, reason, path)
}

func invoke(ctx context.Context, inv Invoker, agent string, p prompt.Prompts, opts llm.Options) (shared.AgentMeta, string, error) {
	start := time.Now()
	res, err := inv.Invoke(ctx, llm.Request{System: p.System, User: p.User, Options: opts})
	meta := shared.AgentMeta{
		AgentName: agent,
		Usage:     res.Usage,
		Latency:   time.Since(start),
		Attempts:  res.Attempts,
	}
	return meta, res.Text, err
}

func correctAll(c *prompt.Composer, job Job, reason, path string) (Job, error) {
	out := Job{Prompts: make([]prompt.Prompts, len(job.Prompts))}
	for i, p := range job.Prompts {
		corrected, err := c.Corrective(p, reason, path)
		if err != nil {
			return Job{}, err
		}
		out.Prompts[i] = corrected
	}
	return out, nil
}

// mergeHalves checks each half against its own schema and writes every
// nutrition day into the training day with the same date. Paths in the
// returned ParseErrors are prefixed with the half they refer to.
func mergeHalves(trainingRaw, nutritionRaw string) (string, error) {
	_, training, err := validator.Structured(trainingRaw)
	if err != nil {
		return "", err
	}
	if vs := validator.TrainingSchema.Validate(training); len(vs) > 0 {
		vs[0].Reason = validator.ReasonSchemaMismatch + ": " + vs[0].Reason
		return "", validator.ParseError(vs[0])
	}

	_, nutrition, err := validator.Structured(nutritionRaw)
	if err != nil {
		return "", err
	}
	if vs := validator.NutritionSchema.Validate(nutrition); len(vs) > 0 {
		vs[0].Path = "nutrition." + vs[0].Path
		vs[0].Reason = validator.ReasonSchemaMismatch + ": " + vs[0].Reason
		return "", validator.ParseError(vs[0])
	}

	byDate := make(map[string]any)
	for _, d := range nutrition.(map[string]any)["days"].([]any) {
		day := d.(map[string]any)
		byDate[day["date"].(string)] = day["nutrition"]
	}

	plan := training.(map[string]any)
	for i, w := range plan["weeks"].([]any) {
		for j, d := range w.(map[string]any)["days"].([]any) {
			day := d.(map[string]any)
			n, ok := byDate[day["date"].(string)]
			if !ok {
				return "", validator.ParseError(validator.Violation{
					Path:   fmt.Sprintf("weeks[%d].days[%d].nutrition", i, j),
					Reason: validator.ReasonSchemaMismatch + ": no nutrition for this date",
				})
			}
			day["nutrition"] = n
		}
	}

	b, err := json.Marshal(plan)
	if err != nil {
		return "", planerr.Parse(validator.ReasonSchemaMismatch, "")
	}
	return string(b), nil
}
