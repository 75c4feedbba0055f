package aggregation

import (
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/abcmetrics/internal/config"
)

// Segment tags.
const (
	SegmentCOD   = "COD"
	SegmentINS   = "INS"
	SegmentOther = "OTHER"
)

// Segment derives the coarse job category from a type label.
func Segment(jobType string) string {
	switch {
	case strings.Contains(jobType, SegmentCOD):
		return SegmentCOD
	case strings.Contains(jobType, SegmentINS):
		return SegmentINS
	default:
		return SegmentOther
	}
}

// Classifier decides unit and repair status under a set of rules.
type Classifier struct {
	service   map[string]struct{}
	repair    map[string]struct{}
	threshold decimal.Decimal
}

func NewClassifier(rules config.Rules) Classifier {
	c := Classifier{
		service:   make(map[string]struct{}, len(rules.ServiceTypes)),
		repair:    make(map[string]struct{}, len(rules.RepairTypes)),
		threshold: decimal.NewFromFloat(rules.RepairThreshold),
	}
	for _, t := range rules.ServiceTypes {
		c.service[strings.TrimSpace(t)] = struct{}{}
	}
	for _, t := range rules.RepairTypes {
		c.repair[strings.TrimSpace(t)] = struct{}{}
	}
	return c
}

func (c Classifier) IsUnit(jobType string) bool {
	_, ok := c.service[strings.TrimSpace(jobType)]
	return ok
}

// IsRepair is true for repair types, and for service types whose payments exceed the threshold.
func (c Classifier) IsRepair(jobType string, paid decimal.Decimal) bool {
	if _, ok := c.repair[strings.TrimSpace(jobType)]; ok {
		return true
	}
	return c.IsUnit(jobType) && paid.GreaterThan(c.threshold)
}

// ServiceTypes returns the unit type labels.
func (c Classifier) ServiceTypes() []string {
	types := make([]string, 0, len(c.service))
	for t := range c.service {
		types = append(types, t)
	}
	return types
}

var defaultClassifier = NewClassifier(config.DefaultRules())

// IsUnit classifies with the default rules.
func IsUnit(jobType string) bool {
	return defaultClassifier.IsUnit(jobType)
}

// IsRepair classifies with the default rules.
func IsRepair(jobType string, paid decimal.Decimal) bool {
	return defaultClassifier.IsRepair(jobType, paid)
}

// Ratio returns num/den rounded to four places, or nil when den is zero.
func Ratio(num, den decimal.Decimal) *decimal.Decimal {
	if den.IsZero() {
		return nil
	}
	r := num.DivRound(den, 4)
	return &r
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
