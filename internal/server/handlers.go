package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"mealplan/internal/api"
	"mealplan/internal/db"
	"mealplan/internal/pipeline"
	"mealplan/internal/safepath"
)

const readyMessage = "Ready"

func (s *Server) handleConfig(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.FormDefaults())
}

// handleStatus projects the latest run onto the client status model.
func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()
	status := api.JobStatus{Status: api.StatusIdle, StatusMessage: readyMessage}

	run, err := s.store.LatestRun(ctx)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		slog.Error("status: latest run", "err", err)
		c.JSON(http.StatusInternalServerError, detail("Failed to load status"))
		return
	default:
		status = projectRun(run)
	}

	results, err := s.store.LatestResults(ctx)
	switch {
	case errors.Is(err, db.ErrNotFound):
	case err != nil:
		slog.Error("status: latest results", "err", err)
		c.JSON(http.StatusInternalServerError, detail("Failed to load status"))
		return
	default:
		status.HasResults = true
		status.Timestamp = results.CompletedAt
	}
	c.JSON(http.StatusOK, status)
}

func projectRun(run db.Run) api.JobStatus {
	out := api.JobStatus{StatusMessage: run.StatusMessage}
	switch run.State {
	case db.RunQueued, db.RunProcessing:
		out.Status = api.StatusProcessing
	case db.RunCompleted:
		out.Status = api.StatusCompleted
	default:
		out.Status = api.StatusError
		out.Error = run.ErrorMessage
	}
	return out
}

func (s *Server) handleGenerate(c *gin.Context) {
	req := api.RequestFromDefaults(s.cfg.FormDefaults())
	req.AutoSendDiscord = false
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusUnprocessableEntity, detail("Invalid request body: "+err.Error()))
		return
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, detail(strings.ReplaceAll(err.Error(), "\n", "; ")))
		return
	}

	runID, err := s.store.CreateRun(c.Request.Context(), db.RunRequest{
		PostalCode:      req.PostalCode,
		NumPeople:       req.NumPeople,
		NumMeals:        req.NumMeals,
		Cuisine:         req.Cuisine,
		Headless:        req.Headless,
		AutoSendDiscord: req.AutoSendDiscord,
	})
	if errors.Is(err, db.ErrActiveRun) {
		c.JSON(http.StatusConflict, detail("Already processing a request"))
		return
	}
	if err != nil {
		slog.Error("generate: create run", "err", err)
		c.JSON(http.StatusInternalServerError, detail("Failed to start generation"))
		return
	}

	select {
	case s.runCh <- runID:
	default:
		slog.Warn("generate: run channel full, run will be picked up on next poll", "run", db.ShortID(runID))
	}
	slog.Info("generate: run queued", "run", db.ShortID(runID), "cuisine", req.Cuisine, "meals", req.NumMeals)

	c.JSON(http.StatusOK, api.GenerateResponse{
		Message: "Recommendation generation started",
		Status:  api.StatusProcessing,
	})
}

func (s *Server) handleRecommendations(c *gin.Context) {
	run, ok := s.latestResults(c, "No recommendations available yet")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, api.Recommendations{
		Recommendations: run.Recommendations,
		FlyerImage:      run.FlyerImage,
		Timestamp:       run.CompletedAt,
	})
}

func (s *Server) handleFlyerImage(c *gin.Context) {
	run, err := s.store.LatestResults(c.Request.Context())
	if err != nil || run.FlyerImage == "" {
		c.JSON(http.StatusNotFound, detail("Flyer image not found"))
		return
	}
	path, err := safepath.Within(s.cfg.Server.OutputDir, run.FlyerImage)
	if err != nil {
		slog.Warn("flyer-image: rejected path", "run", db.ShortID(run.ID), "err", err)
		c.JSON(http.StatusNotFound, detail("Flyer image not found"))
		return
	}
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		c.JSON(http.StatusNotFound, detail("Flyer image not found"))
		return
	}
	c.Header("Content-Type", "image/jpeg")
	c.Header("Cache-Control", "no-store")
	c.File(path)
}

func (s *Server) handleSendDiscord(c *gin.Context) {
	var req api.DiscordRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusUnprocessableEntity, detail("Invalid request body: "+err.Error()))
		return
	}
	webhookURL := strings.TrimSpace(req.WebhookURL)
	if webhookURL == "" {
		c.JSON(http.StatusUnprocessableEntity, detail("Discord webhook URL is required"))
		return
	}
	if u, err := url.Parse(webhookURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.JSON(http.StatusUnprocessableEntity, detail("Discord webhook URL must be an http(s) URL"))
		return
	}

	run, ok := s.latestResults(c, "No recommendations available to send")
	if !ok {
		return
	}

	sender := s.newSender(webhookURL)
	if err := pipeline.Deliver(c.Request.Context(), s.store, sender, run.ID, run.Recommendations, run.FlyerImage); err != nil {
		slog.Warn("send-discord failed", "run", db.ShortID(run.ID), "err", err)
		c.JSON(http.StatusInternalServerError, detail("Error sending to Discord: "+err.Error()))
		return
	}
	c.JSON(http.StatusOK, api.MessageResponse{Message: "Successfully sent to Discord", Success: true})
}

// latestResults writes a 404 with notFound and returns false when no
// completed run has results.
func (s *Server) latestResults(c *gin.Context, notFound string) (db.Run, bool) {
	run, err := s.store.LatestResults(c.Request.Context())
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, detail(notFound))
		return db.Run{}, false
	}
	if err != nil {
		slog.Error("load latest results", "err", err)
		c.JSON(http.StatusInternalServerError, detail("Failed to load recommendations"))
		return db.Run{}, false
	}
	return run, true
}
