package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spigell/intern-allocator/internal/cycle"
	"github.com/spigell/intern-allocator/internal/internship"
	"go.uber.org/zap"
)

type applicationRequest struct {
	ApplicantID int64 `json:"applicant_id" binding:"required"`
	PostingID   int64 `json:"posting_id" binding:"required"`
}

type cycleResponse struct {
	RunID             string                  `json:"run_id"`
	PostingsProcessed int                     `json:"postings_processed"`
	PostingsFailed    int                     `json:"postings_failed"`
	TotalShortlisted  int                     `json:"total_shortlisted"`
	Expired           []internship.PostingRef `json:"expired"`
	Error             string                  `json:"error,omitempty"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) triggerAllocation(c *gin.Context) {
	includeExpiry, _ := strconv.ParseBool(c.Query("include_expiry"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.ManualTimeout)
	defer cancel()

	report, err := s.deps.Cycles.RunCycle(ctx, cycle.TriggerManual, includeExpiry)

	resp := cycleResponse{Expired: []internship.PostingRef{}}
	if report != nil {
		resp.RunID = report.RunID
		resp.PostingsProcessed = report.PostingsProcessed
		resp.PostingsFailed = report.PostingsFailed
		resp.TotalShortlisted = report.TotalShortlisted
		if report.Expired != nil {
			resp.Expired = report.Expired
		}
	}

	if err != nil {
		resp.Error = err.Error()
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, cycle.ErrCycleBusy):
			status = http.StatusConflict
		case errors.Is(err, context.DeadlineExceeded):
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) submit(c *gin.Context) {
	var req applicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "applicant_id and posting_id are required"})
		return
	}

	app, err := s.deps.Applications.Submit(c.Request.Context(), req.ApplicantID, req.PostingID)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, app)
}

func (s *Server) score(c *gin.Context) {
	applicantID, err1 := strconv.ParseInt(c.Query("applicant_id"), 10, 64)
	postingID, err2 := strconv.ParseInt(c.Query("posting_id"), 10, 64)
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "applicant_id and posting_id must be integers"})
		return
	}

	score, err := s.deps.Applications.Score(c.Request.Context(), applicantID, postingID)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"applicant_id": applicantID, "posting_id": postingID, "score": score})
}

func (s *Server) confirm(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "application id must be an integer"})
		return
	}

	app, err := s.deps.Applications.Confirm(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, app)
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, internship.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, internship.ErrAlreadyApplied), errors.Is(err, internship.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, internship.ErrPostingClosed):
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// requireAdmin checks the bearer token when one is configured.
func (s *Server) requireAdmin(c *gin.Context) {
	if s.cfg.AdminToken == "" {
		c.Next()
		return
	}

	token, ok := bearerToken(c.Request)
	if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
