package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/abcmetrics/internal/scheduler"
	"go.uber.org/zap"
)

var syncJobs = map[string]string{
	"jobs":     scheduler.JobSyncJobs,
	"leads":    scheduler.JobSyncLeads,
	"payments": scheduler.JobSyncPayments,
	"calls":    scheduler.JobSyncCalls,
}

// TriggerSync runs one sync job immediately and returns its run report.
func (s *Server) TriggerSync(c *gin.Context) {
	resource := strings.ToLower(strings.TrimSpace(c.Param("resource")))
	job, ok := syncJobs[resource]
	if !ok {
		AbortWithError(c, newValidationError("resource", "invalid_resource", "resource must be one of jobs, leads, payments, calls"))
		return
	}

	report, err := s.jobs.Trigger(c.Request.Context(), job)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("manual sync finished",
		zap.String("job", report.Job),
		zap.Int("processed", report.Processed),
		zap.Bool("timed_out", report.TimedOut),
	)
	c.JSON(http.StatusOK, gin.H{"data": report})
}
