// Package api exposes the plan generation pipeline over HTTP.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/metrics"
)

type RouterConfig struct {
	Logger         *logger.Logger
	PlanHandler    *PlanHandler
	HealthHandler  *HealthHandler
	AuthMiddleware *AuthMiddleware
	Collectors     *metrics.Collectors
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(log))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/health", cfg.HealthHandler.HealthCheck)
		r.GET("/health/details", cfg.HealthHandler.Details)
	}
	if cfg.Collectors != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(cfg.Collectors.Registry, promhttp.HandlerOpts{})))
	}

	protected := r.Group("/")
	if cfg.AuthMiddleware != nil {
		protected.Use(cfg.AuthMiddleware.RequireAuth())
	}
	if cfg.PlanHandler != nil {
		protected.POST("/plan/init", cfg.PlanHandler.InitPlan)
		protected.GET("/plan/active", cfg.PlanHandler.ActivePlan)
		protected.POST("/plan/archive", cfg.PlanHandler.ArchivePlan)
		protected.POST("/onboarding/submit", cfg.PlanHandler.SubmitOnboarding)
	}

	return r
}
