package migration

import (
	"context"
	"fmt"

	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultSources mirrors the rows seeded by 000001_dimensions.up.sql.
var DefaultSources = []domain.Source{
	{Code: "elocals", Name: "eLocals"},
	{Code: "google", Name: "Google"},
	{Code: "rely", Name: "Rely"},
	{Code: "nsa", Name: "NSA"},
	{Code: "liberty", Name: "Liberty"},
	{Code: "retention", Name: "Retention"},
	{Code: "pro_referral", Name: "Pro Referral"},
	{Code: "website", Name: "Website"},
	{Code: "workiz", Name: "Workiz"},
	{Code: "unknown", Name: "Unknown"},
}

// SeedSources inserts the known marketing sources, leaving existing rows untouched.
func SeedSources(ctx context.Context, conn *gorm.DB) error {
	rows := make([]domain.Source, len(DefaultSources))
	copy(rows, DefaultSources)
	err := conn.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("seed sources: %w", err)
	}
	return nil
}
