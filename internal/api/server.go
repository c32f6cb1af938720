package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/civicscan/municipal-scanner/internal/ai"
	"github.com/civicscan/municipal-scanner/internal/config"
	"github.com/civicscan/municipal-scanner/internal/db"
	"github.com/civicscan/municipal-scanner/internal/scan"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type Server struct {
	Store  *db.Store
	Config *config.Config
	Echo   *echo.Echo

	// Background scan job tracking. At most one scan runs at a time.
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

func NewServer(store *db.Store, cfg *config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	s := &Server{
		Store:  store,
		Config: cfg,
		Echo:   e,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)

	api := s.Echo.Group("/api/v1")
	api.GET("/municipalities", s.handleListMunicipalities)
	api.GET("/rfps", s.handleListRFPs)
	api.GET("/stats", s.handleGetStats)

	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/scan", s.handleTriggerScan)
	admin.GET("/admin/job/:id", s.handleJobStatus)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListMunicipalities(c echo.Context) error {
	params := db.MunicipalityListParams{
		Province:   c.QueryParam("province"),
		ScanStatus: c.QueryParam("scan_status"),
		Limit:      20,
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 200 {
		params.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		params.Offset = o
	}

	result, err := s.Store.ListMunicipalities(c.Request().Context(), params)
	if err != nil {
		c.Logger().Errorf("Failed to list municipalities: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleListRFPs(c echo.Context) error {
	params := db.RFPListParams{
		Source: c.QueryParam("source"),
		Query:  c.QueryParam("q"),
		Limit:  20,
	}
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 200 {
		params.Limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		params.Offset = o
	}

	result, err := s.Store.ListRFPs(c.Request().Context(), params)
	if err != nil {
		c.Logger().Errorf("Failed to list rfps: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

// handleTriggerScan starts a scan batch in the background and returns 202.
// A second trigger while one is running is rejected with 409.
func (s *Server) handleTriggerScan(c echo.Context) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  "A scan is already running",
			"job_id": job.ID,
		})
	}

	province := c.QueryParam("province")
	retryFailed := strings.EqualFold(c.QueryParam("retry_failed"), "true")
	limit := 0
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	orch, err := s.buildOrchestrator()
	if err != nil {
		s.jobMu.Unlock()
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	// context.WithoutCancel detaches from the HTTP lifecycle; scans across
	// many municipalities routinely outlive the request.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), 6*time.Hour,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	go func() {
		defer jobCancel()

		summary, err := orch.Run(jobCtx, province, limit, retryFailed)
		s.jobMu.Lock()
		defer s.jobMu.Unlock()
		job.EndedAt = time.Now()
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
			log.Printf("[scan-job %s] failed: %v", jobID, err)
			return
		}
		job.Status = "completed"
		job.Result = map[string]interface{}{
			"municipalities":    summary.Municipalities,
			"succeeded":         summary.Succeeded,
			"failed":            summary.Failed,
			"no_minutes":        summary.NoMinutes,
			"documents_fetched": summary.DocumentsFetched,
			"rfps_created":      summary.RFPsCreated,
			"rfps_updated":      summary.RFPsUpdated,
		}
		log.Printf("[scan-job %s] completed: %d municipalities, %d RFPs created", jobID, summary.Municipalities, summary.RFPsCreated)
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": "Scan started",
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) buildOrchestrator() (*scan.Orchestrator, error) {
	client, err := ai.NewClient(s.Config.OpenAIBaseURL, s.Config.OpenAIAPIKey)
	if err != nil {
		return nil, err
	}
	engine := ai.NewEngine(client, ai.EngineConfig{
		Model:               s.Config.Model,
		Temperature:         s.Config.Temperature,
		MaxTokens:           s.Config.MaxTokens,
		ChunkSizeTokens:     s.Config.ChunkSizeTokens,
		ConfidenceThreshold: s.Config.ConfidenceThreshold,
	})

	fetcher := scan.NewFetcher(s.Config.Fetcher, time.Duration(s.Config.FetchTimeoutSeconds)*time.Second)
	return scan.NewOrchestrator(
		s.Store, fetcher, engine,
		time.Duration(s.Config.DocumentDelayMS)*time.Millisecond,
		time.Duration(s.Config.MunicipalityDelayMS)*time.Millisecond,
	), nil
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	defer s.jobMu.Unlock()

	job := s.runningJob
	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	resp := map[string]interface{}{
		"id":         job.ID,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := s.adminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		// Accept X-Admin-Secret header or Bearer token.
		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == secret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == secret {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func (s *Server) adminSecret() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(s.Config.AdminSecret)
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
