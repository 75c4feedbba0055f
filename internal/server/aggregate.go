package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/abcmetrics/internal/aggregation"
	"github.com/smallbiznis/abcmetrics/internal/scheduler"
)

type aggregateResponse struct {
	Period      string `json:"period"`
	Granularity string `json:"granularity"`
	Rows        int    `json:"rows"`
}

// AggregateDaily rebuilds one day of rollups. Defaults to yesterday.
func (s *Server) AggregateDaily(c *gin.Context) {
	var query struct {
		Date string `form:"date"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	period := aggregation.PeriodFor(aggregation.Day, s.clock.Now().AddDate(0, 0, -1))
	if raw := strings.TrimSpace(query.Date); raw != "" {
		parsed, err := aggregation.ParseDay(raw)
		if err != nil {
			AbortWithError(c, newValidationError("date", "invalid_date", "date must be YYYY-MM-DD"))
			return
		}
		period = parsed
	}

	s.aggregate(c, period)
}

// AggregateMonthly rebuilds one month of rollups. Defaults to the previous month.
func (s *Server) AggregateMonthly(c *gin.Context) {
	var query struct {
		Month string `form:"month"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	prev := aggregation.Month.Truncate(s.clock.Now()).AddDate(0, -1, 0)
	period := aggregation.PeriodFor(aggregation.Month, prev)
	if raw := strings.TrimSpace(query.Month); raw != "" {
		parsed, err := aggregation.ParseMonth(raw)
		if err != nil {
			AbortWithError(c, newValidationError("month", "invalid_month", "month must be YYYY-MM"))
			return
		}
		period = parsed
	}

	s.aggregate(c, period)
}

func (s *Server) aggregate(c *gin.Context, period aggregation.Period) {
	rows, err := s.aggregator.AggregatePeriod(c.Request.Context(), period)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": aggregateResponse{
		Period:      period.String(),
		Granularity: string(period.Granularity),
		Rows:        rows,
	}})
}

// RebuildAggregates runs the full re-aggregation job through the scheduler so
// it shares the overlap guard with the nightly run.
func (s *Server) RebuildAggregates(c *gin.Context) {
	report, err := s.jobs.Trigger(c.Request.Context(), scheduler.JobReaggregateAll)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": report})
}
