package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shiftsmith/shiftsmith/config"
	"github.com/shiftsmith/shiftsmith/db"
	"github.com/shiftsmith/shiftsmith/dependency"
	"github.com/shiftsmith/shiftsmith/models"
	"github.com/shiftsmith/shiftsmith/orchestrator"
	"github.com/shiftsmith/shiftsmith/traffic"
)

const Version = "1.0.0"

// ShiftRunner is the traffic-manager surface the API depends on; tests
// substitute a fake.
type ShiftRunner interface {
	ImmediateSwitch(ctx context.Context, old, new *models.Environment) (*models.TrafficShiftResult, error)
	GradualShift(ctx context.Context, old, new *models.Environment) (*models.TrafficShiftResult, error)
	Canary(ctx context.Context, old, new *models.Environment, canaryPercent int) (*models.TrafficShiftResult, error)
	Rollback(ctx context.Context, old, new *models.Environment) error
}

// Deployer runs the full deployment pipeline; tests substitute a fake.
type Deployer interface {
	Deploy(ctx context.Context, req orchestrator.DeployRequest) (*orchestrator.DeployResult, error)
}

// Server is the shiftd HTTP API.
type Server struct {
	config       *config.Config
	db           *db.Database
	shifts       ShiftRunner
	deployer     Deployer
	tracker      *traffic.Tracker
	dependencies *dependency.Manager
	metrics      *Metrics
	router       *gin.Engine
}

// NewServer wires the API against the core managers. deployer may be nil
// when the full pipeline is not configured.
func NewServer(cfg *config.Config, database *db.Database, shifts ShiftRunner, deployer Deployer, tracker *traffic.Tracker, dependencies *dependency.Manager) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:       cfg,
		db:           database,
		shifts:       shifts,
		deployer:     deployer,
		tracker:      tracker,
		dependencies: dependencies,
		metrics:      NewMetrics(),
		router:       gin.Default(),
	}

	s.setupRoutes()
	return s
}

// Run starts the server on the configured port.
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%d", s.config.Server.Port))
}

func (s *Server) setupRoutes() {
	// Health and metrics (no auth)
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	api := s.router.Group("/api/v1")
	api.Use(s.authMiddleware())
	{
		// Traffic shifts
		api.POST("/shifts", s.handleStartShift)
		api.GET("/shifts", s.handleListShifts)
		api.GET("/shifts/:id", s.handleGetShift)
		api.POST("/shifts/:id/cancel", s.handleCancelShift)
		api.POST("/rollback", s.handleRollback)
		api.POST("/deploy", s.handleDeploy)

		// Dependency graphs
		api.POST("/deployments/:deployment/resolve", s.handleResolve)
		api.POST("/deployments/:deployment/inject/:component", s.handleInject)
		api.GET("/deployments/:deployment/health", s.handleDeploymentHealth)
		api.POST("/deployments/:deployment/services", s.handleRegisterService)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		parts := strings.Split(auth, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			c.Abort()
			return
		}

		if !s.config.ValidateAPIKey(parts[1]) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	dbOK := s.db == nil || s.db.Ping() == nil

	status := "healthy"
	if !dbOK {
		status = "degraded"
	}

	c.JSON(http.StatusOK, models.HealthResponse{
		Status:             status,
		Version:            Version,
		DatabaseAccessible: dbOK,
	})
}

func (s *Server) handleStartShift(c *gin.Context) {
	var req models.StartShiftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	if err := models.ValidateStartShift(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid shift request",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	// The shift must outlive this request; it runs under the tracker's
	// cancellable context, not the request context.
	id, shiftCtx := s.tracker.Start(context.Background(), req.Strategy, req.OldEnv, req.NewEnv)
	s.metrics.ShiftsStarted.WithLabelValues(string(req.Strategy)).Inc()

	go s.runShift(shiftCtx, id, req)

	status, _ := s.tracker.Get(id)
	c.JSON(http.StatusAccepted, models.StartShiftResponse{
		ShiftID:   id,
		Strategy:  req.Strategy,
		State:     status.State,
		StartedAt: status.StartedAt,
	})
}

func (s *Server) runShift(ctx context.Context, id string, req models.StartShiftRequest) {
	var (
		result *models.TrafficShiftResult
		err    error
	)

	switch req.Strategy {
	case models.StrategyImmediate:
		result, err = s.shifts.ImmediateSwitch(ctx, req.OldEnv, req.NewEnv)
	case models.StrategyGradual:
		result, err = s.shifts.GradualShift(ctx, req.OldEnv, req.NewEnv)
	case models.StrategyCanary:
		result, err = s.shifts.Canary(ctx, req.OldEnv, req.NewEnv, req.CanaryPercent)
	}
	if err != nil {
		log.Printf("Shift %s failed: %v", id, err)
	}
	if result == nil {
		return
	}

	s.tracker.Complete(id, result)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	s.metrics.ShiftsCompleted.WithLabelValues(string(result.Strategy), outcome).Inc()
	if result.RollbackPerformed {
		s.metrics.Rollbacks.Inc()
	}

	if s.db != nil {
		oldName := ""
		if req.OldEnv != nil {
			oldName = req.OldEnv.Name
		}
		if err := s.db.SaveShift(result, oldName, req.NewEnv.Name, req.TriggeredBy); err != nil {
			log.Printf("Failed to persist shift %s: %v", id, err)
		}
	}
}

func (s *Server) handleGetShift(c *gin.Context) {
	id := c.Param("id")

	if status, ok := s.tracker.Get(id); ok {
		c.JSON(http.StatusOK, status)
		return
	}

	if s.db != nil {
		if result, err := s.db.GetShift(id); err == nil {
			c.JSON(http.StatusOK, models.ShiftStatus{
				ShiftID:   id,
				State:     models.ShiftCompleted,
				Strategy:  result.Strategy,
				StartedAt: result.StartedAt,
				Result:    result,
			})
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{"error": "shift not found"})
}

func (s *Server) handleListShifts(c *gin.Context) {
	env := c.Query("env")
	if env == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "env query parameter is required"})
		return
	}
	if s.db == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shift history not available"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > 100 {
		limit = 20
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}

	shifts, total, err := s.db.GetShifts(env, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list shifts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"shifts": shifts,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) handleCancelShift(c *gin.Context) {
	id := c.Param("id")

	if !s.tracker.Cancel(id) {
		c.JSON(http.StatusConflict, gin.H{"error": "shift not running"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"shift_id": id, "state": models.ShiftCancelled})
}

func (s *Server) handleDeploy(c *gin.Context) {
	if s.deployer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "deployment pipeline not configured"})
		return
	}

	var req orchestrator.DeployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	if req.DeploymentID == "" || len(req.Components) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid deployment request",
			Details: "deployment_id and components are required",
			Time:    time.Now(),
		})
		return
	}
	if err := models.ValidateStartShift(&models.StartShiftRequest{
		Strategy:      req.Strategy,
		OldEnv:        req.OldEnv,
		NewEnv:        req.NewEnv,
		CanaryPercent: req.CanaryPercent,
	}); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid deployment request",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	// The pipeline outlives the request; its shift is tracked under the
	// same tracker as directly started shifts.
	id, deployCtx := s.tracker.Start(context.Background(), req.Strategy, req.OldEnv, req.NewEnv)
	s.metrics.ShiftsStarted.WithLabelValues(string(req.Strategy)).Inc()

	go func() {
		res, err := s.deployer.Deploy(deployCtx, req)
		if err != nil {
			log.Printf("Deployment %s failed: %v", req.DeploymentID, err)
		}

		var result *models.TrafficShiftResult
		if res != nil {
			result = res.Shift
		}
		if result == nil {
			// Aborted before the traffic phase; record the failure so
			// status polling terminates.
			result = &models.TrafficShiftResult{Success: false}
			if err != nil {
				result.ErrorMessage = err.Error()
			}
		}
		s.tracker.Complete(id, result)

		outcome := "success"
		if !result.Success {
			outcome = "failure"
		}
		s.metrics.ShiftsCompleted.WithLabelValues(string(req.Strategy), outcome).Inc()
		if result.RollbackPerformed {
			s.metrics.Rollbacks.Inc()
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"deployment_id": req.DeploymentID,
		"shift_id":      id,
		"strategy":      req.Strategy,
	})
}

func (s *Server) handleRollback(c *gin.Context) {
	var req models.RollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	if err := models.ValidateRollback(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid rollback request",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	if err := s.shifts.Rollback(c.Request.Context(), req.OldEnv, req.NewEnv); err != nil {
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "Rollback failed",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}
	s.metrics.Rollbacks.Inc()

	log.Printf("Manual rollback: all traffic to %s, none to %s", req.OldEnv.Name, req.NewEnv.Name)
	c.JSON(http.StatusOK, gin.H{
		"old_env":      req.OldEnv.Name,
		"new_env":      req.NewEnv.Name,
		"distribution": models.DistributionAllOld,
	})
}

func (s *Server) handleResolve(c *gin.Context) {
	deploymentID := c.Param("deployment")

	var req models.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	graph, err := s.dependencies.CreateGraph(deploymentID, req.Components)
	if err != nil {
		s.metrics.Resolutions.WithLabelValues("failure").Inc()
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Failed to build dependency graph",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	if err := s.dependencies.ResolveAll(c.Request.Context(), deploymentID); err != nil {
		s.metrics.Resolutions.WithLabelValues("failure").Inc()
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Error:   "Dependency resolution failed",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}
	s.metrics.Resolutions.WithLabelValues("success").Inc()

	c.JSON(http.StatusOK, models.ResolveResponse{
		DeploymentID: deploymentID,
		Status:       graph.ResolutionStatus,
		Resolved:     len(graph.ResolvedDependencies),
		ResolvedAt:   graph.LastUpdated,
	})
}

func (s *Server) handleInject(c *gin.Context) {
	deploymentID := c.Param("deployment")
	component := c.Param("component")

	cfg, err := s.dependencies.InjectConfiguration(c.Request.Context(), deploymentID, component)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "Failed to inject configuration",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, models.InjectResponse{
		DeploymentID: deploymentID,
		Component:    component,
		Config:       cfg,
	})
}

func (s *Server) handleDeploymentHealth(c *gin.Context) {
	deploymentID := c.Param("deployment")

	report, err := s.dependencies.MonitorHealth(c.Request.Context(), deploymentID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error:   "Failed to check deployment health",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) handleRegisterService(c *gin.Context) {
	deploymentID := c.Param("deployment")

	var req models.RegisterServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "Invalid request body",
			Details: err.Error(),
			Time:    time.Now(),
		})
		return
	}

	inGraph := s.dependencies.RegisterService(deploymentID, req.Endpoint)
	c.JSON(http.StatusOK, gin.H{
		"registered":    true,
		"in_graph":      inGraph,
		"deployment_id": deploymentID,
		"name":          req.Endpoint.Name,
	})
}
