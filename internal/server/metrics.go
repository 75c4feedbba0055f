package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/abcmetrics/internal/aggregation"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/smallbiznis/abcmetrics/pkg/db/pagination"
	"gorm.io/gorm"
)

type metricsQuery struct {
	From    string `form:"from"`
	To      string `form:"to"`
	Source  string `form:"source"`
	Segment string `form:"segment"`
	pagination.Pagination
}

type metricsFilter struct {
	from    *time.Time
	to      *time.Time
	source  string
	segment string
	cursor  *pagination.Cursor
	period  time.Time
	limit   int
}

// ListDailyMetrics pages through daily rollups ordered by (date, id).
func (s *Server) ListDailyMetrics(c *gin.Context) {
	filter, ok := s.bindMetricsFilter(c, parseOptionalDate)
	if !ok {
		return
	}

	var rows []domain.DailyMetric
	if err := filter.apply(s.db.WithContext(c.Request.Context()), "date").Find(&rows).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	page, info, err := pagination.BuildCursorPage(rows, filter.limit, func(m domain.DailyMetric) pagination.Cursor {
		return pagination.Cursor{ID: m.ID, Period: m.Date.UTC().Format(time.RFC3339)}
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": page, "page_info": info})
}

// ListMonthlyMetrics pages through monthly rollups ordered by (month, id).
func (s *Server) ListMonthlyMetrics(c *gin.Context) {
	filter, ok := s.bindMetricsFilter(c, parseOptionalMonth)
	if !ok {
		return
	}

	var rows []domain.MonthlyMetric
	if err := filter.apply(s.db.WithContext(c.Request.Context()), "month").Find(&rows).Error; err != nil {
		AbortWithError(c, err)
		return
	}

	page, info, err := pagination.BuildCursorPage(rows, filter.limit, func(m domain.MonthlyMetric) pagination.Cursor {
		return pagination.Cursor{ID: m.ID, Period: m.Month.UTC().Format(time.RFC3339)}
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": page, "page_info": info})
}

func (s *Server) bindMetricsFilter(c *gin.Context, parsePeriod func(string) (*time.Time, error)) (metricsFilter, bool) {
	var query metricsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return metricsFilter{}, false
	}

	from, err := parsePeriod(query.From)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return metricsFilter{}, false
	}
	to, err := parsePeriod(query.To)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return metricsFilter{}, false
	}
	if from != nil && to != nil && to.Before(*from) {
		AbortWithError(c, newValidationError("to", "invalid_range", "to must not be before from"))
		return metricsFilter{}, false
	}

	segment, err := parseOptionalSegment(query.Segment)
	if err != nil {
		AbortWithError(c, newValidationError("segment", "invalid_segment", "segment must be one of COD, INS, OTHER"))
		return metricsFilter{}, false
	}

	filter := metricsFilter{
		from:    from,
		to:      to,
		source:  strings.ToLower(strings.TrimSpace(query.Source)),
		segment: segment,
		limit:   query.Size(),
	}

	if token := strings.TrimSpace(query.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			AbortWithError(c, err)
			return metricsFilter{}, false
		}
		period, err := time.Parse(time.RFC3339, cursor.Period)
		if err != nil {
			AbortWithError(c, pagination.ErrInvalidPageToken)
			return metricsFilter{}, false
		}
		filter.cursor = cursor
		filter.period = period
	}

	return filter, true
}

// apply builds the filtered keyset query. Both bounds are inclusive.
func (f metricsFilter) apply(q *gorm.DB, column string) *gorm.DB {
	if f.from != nil {
		q = q.Where(column+" >= ?", *f.from)
	}
	if f.to != nil {
		q = q.Where(column+" <= ?", *f.to)
	}
	if f.source != "" {
		q = q.Where("source = ?", f.source)
	}
	if f.segment != "" {
		q = q.Where("segment = ?", f.segment)
	}
	if f.cursor != nil {
		q = q.Where("(("+column+" > ?) OR ("+column+" = ? AND id > ?))", f.period, f.period, f.cursor.ID)
	}
	return q.Order(column + " ASC").Order("id ASC").Limit(f.limit + 1)
}

// DailyMetricsSeries returns one point per day, zero-filled. Defaults to the 30 days before today.
func (s *Server) DailyMetricsSeries(c *gin.Context) {
	yesterday := aggregation.Day.Truncate(s.clock.Now()).AddDate(0, 0, -1)
	s.series(c, aggregation.Day, parseOptionalDate, yesterday.AddDate(0, 0, -29), yesterday)
}

// MonthlyMetricsSeries returns one point per month, zero-filled. Defaults to the 12 months before this one.
func (s *Server) MonthlyMetricsSeries(c *gin.Context) {
	lastMonth := aggregation.Month.Truncate(s.clock.Now()).AddDate(0, -1, 0)
	s.series(c, aggregation.Month, parseOptionalMonth, lastMonth.AddDate(0, -11, 0), lastMonth)
}

func (s *Server) series(c *gin.Context, g aggregation.Granularity, parsePeriod func(string) (*time.Time, error), from, to time.Time) {
	var query metricsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	fromParam, err := parsePeriod(query.From)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	toParam, err := parsePeriod(query.To)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}
	if fromParam != nil {
		from = *fromParam
	}
	if toParam != nil {
		to = *toParam
	}
	segment, err := parseOptionalSegment(query.Segment)
	if err != nil {
		AbortWithError(c, newValidationError("segment", "invalid_segment", "segment must be one of COD, INS, OTHER"))
		return
	}

	points, err := aggregation.Series(c.Request.Context(), s.db, g, from, to, aggregation.SeriesFilter{
		Source:  strings.ToLower(strings.TrimSpace(query.Source)),
		Segment: segment,
	})
	if errors.Is(err, aggregation.ErrSeriesRange) {
		AbortWithError(c, newValidationError("to", "invalid_range", err.Error()))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": points, "granularity": g})
}
