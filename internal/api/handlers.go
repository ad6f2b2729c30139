package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/metrics"
	"github.com/maxibaudrix/Kiui/internal/onboarding"
	"github.com/maxibaudrix/Kiui/internal/plan"
	"github.com/maxibaudrix/Kiui/internal/planerr"
	"github.com/maxibaudrix/Kiui/internal/planner"
)

// PlanGenerator runs the generation pipeline for one request.
type PlanGenerator interface {
	GeneratePlan(ctx context.Context, req planner.Request) (planner.Result, error)
}

type PlanHandler struct {
	log        *logger.Logger
	planner    PlanGenerator
	plans      plan.Store
	onboarding onboarding.Repository
}

func NewPlanHandler(log *logger.Logger, p PlanGenerator, plans plan.Store, repo onboarding.Repository) *PlanHandler {
	return &PlanHandler{log: log, planner: p, plans: plans, onboarding: repo}
}

type initResponse struct {
	PlanID     string `json:"planId"`
	TotalWeeks int    `json:"totalWeeks"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	RedirectTo string `json:"redirectTo"`
}

// InitPlan handles POST /plan/init.
func (h *PlanHandler) InitPlan(c *gin.Context) {
	var payload onboarding.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.fail(c, planerr.Validation("invalid request body"))
		return
	}

	res, err := h.planner.GeneratePlan(c.Request.Context(), h.request(c, payload, metrics.RequestTrainingPlan))
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, initResponse{
		PlanID:     res.PlanID,
		TotalWeeks: res.TotalWeeks,
		StartDate:  res.StartDate,
		EndDate:    res.EndDate,
		RedirectTo: dashboardPath,
	})
}

// SubmitOnboarding handles POST /onboarding/submit: the form is stored as the
// user's onboarding record before the pipeline runs, so it survives a failed
// generation.
func (h *PlanHandler) SubmitOnboarding(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		h.fail(c, planerr.Validation("invalid request body"))
		return
	}
	var payload onboarding.Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.fail(c, planerr.Validation("invalid request body"))
		return
	}

	userID := c.GetString(ctxUserID)
	if err := h.onboarding.Upsert(c.Request.Context(), onboarding.Record{
		UserID: userID,
		Data:   raw,
		Status: onboarding.StatusCompleted,
	}); err != nil {
		h.fail(c, err)
		return
	}

	res, err := h.planner.GeneratePlan(c.Request.Context(), h.request(c, payload, metrics.RequestOnboardingSubmit))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"planId": res.PlanID})
}

// ActivePlan handles GET /plan/active.
func (h *PlanHandler) ActivePlan(c *gin.Context) {
	rec, err := h.plans.GetActive(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ArchivePlan handles POST /plan/archive.
func (h *PlanHandler) ArchivePlan(c *gin.Context) {
	id, err := h.plans.Archive(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("plan archived", "request_id", c.GetString(ctxRequestID), "user_id", c.GetString(ctxUserID), "plan_id", id)
	c.JSON(http.StatusOK, gin.H{"archived": id})
}

func (h *PlanHandler) request(c *gin.Context, p onboarding.Payload, requestType string) planner.Request {
	return planner.Request{
		UserID:      c.GetString(ctxUserID),
		RequestID:   c.GetString(ctxRequestID),
		Payload:     p,
		Locale:      locale(c.GetHeader("Accept-Language")),
		RequestType: requestType,
	}
}

// fail writes the error envelope. Service faults are logged with their full
// chain; the client only sees the stable code and message.
func (h *PlanHandler) fail(c *gin.Context, err error) {
	status, resp := errorResponseFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			"request_id", c.GetString(ctxRequestID), "user_id", c.GetString(ctxUserID),
			"code", resp.Error.Code, "error", err)
	}
	c.AbortWithStatusJSON(status, resp)
}

// locale picks the first language tag of an Accept-Language header.
func locale(header string) string {
	tag, _, _ := strings.Cut(header, ",")
	tag, _, _ = strings.Cut(tag, ";")
	tag = strings.TrimSpace(tag)
	if tag == "*" {
		return ""
	}
	return tag
}

type HealthHandler struct {
	dbPath string
}

// NewHealthHandler reports on the SQLite file at dbPath; pass "" for Postgres.
func NewHealthHandler(dbPath string) *HealthHandler {
	return &HealthHandler{dbPath: dbPath}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

func (h *HealthHandler) Details(c *gin.Context) {
	c.JSON(http.StatusOK, metrics.GetSysHealth(h.dbPath))
}
