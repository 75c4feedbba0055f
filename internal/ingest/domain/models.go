// Package domain contains persistence models for source facts, dimensions and rollups.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Source is the normalized marketing-source dimension.
type Source struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Code      string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_dim_source_code" json:"code"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (Source) TableName() string { return "dim_source" }

// DateDim holds one row per calendar day.
type DateDim struct {
	DateKey   int       `gorm:"primaryKey;autoIncrement:false" json:"date_key"` // yyyymmdd
	Date      time.Time `gorm:"not null;uniqueIndex:ux_dim_date_date" json:"date"`
	Year      int       `gorm:"not null" json:"year"`
	Quarter   int       `gorm:"not null" json:"quarter"`
	Month     int       `gorm:"not null" json:"month"`
	MonthName string    `gorm:"type:varchar(16);not null" json:"month_name"`
	Day       int       `gorm:"not null" json:"day"`
	DayOfWeek int       `gorm:"not null" json:"day_of_week"`
	Week      int       `gorm:"not null" json:"week"`
	IsWeekend bool      `gorm:"not null" json:"is_weekend"`
}

func (DateDim) TableName() string { return "dim_date" }

// Job is a field-service job keyed by the source UUID.
type Job struct {
	JobID            string          `gorm:"column:job_id;type:varchar(64);primaryKey" json:"job_id"`
	OccurredAt       time.Time       `gorm:"not null;index:ix_fact_jobs_occurred_at" json:"occurred_at"`
	ScheduledAt      *time.Time      `json:"scheduled_at,omitempty"`
	EndAt            *time.Time      `json:"end_at,omitempty"`
	LastStatusUpdate *time.Time      `json:"last_status_update,omitempty"`
	Type             string          `gorm:"type:varchar(64)" json:"type"`
	Status           string          `gorm:"type:varchar(64)" json:"status"`
	SubStatus        string          `gorm:"type:varchar(64)" json:"sub_status"`
	Technician       string          `gorm:"type:varchar(128)" json:"technician"`
	ClientID         string          `gorm:"type:varchar(64)" json:"client_id"`
	Price            decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"price"`
	AmountDue        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"amount_due"`
	ItemCost         decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"item_cost"`
	LaborCost        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"labor_cost"`
	TotalCost        decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"total_cost"`
	ContactName      string          `gorm:"type:varchar(255)" json:"contact_name"`
	ContactPhone     string          `gorm:"type:varchar(32)" json:"contact_phone"`
	ContactEmail     string          `gorm:"type:varchar(255)" json:"contact_email"`
	Address          string          `gorm:"type:varchar(255)" json:"address"`
	City             string          `gorm:"type:varchar(128)" json:"city"`
	State            string          `gorm:"type:varchar(32)" json:"state"`
	Zip              string          `gorm:"type:varchar(5)" json:"zip"`
	RawSource        string          `gorm:"type:varchar(128)" json:"raw_source"`
	LeadID           *string         `gorm:"type:varchar(64);index:ix_fact_jobs_lead_id" json:"lead_id,omitempty"`
	SourceID         int64           `gorm:"not null;index:ix_fact_jobs_source_id" json:"source_id"`
	Meta             datatypes.JSON  `json:"meta"`
	CreatedAtDB      time.Time       `gorm:"column:created_at_db;not null;autoCreateTime" json:"created_at_db"`
	UpdatedAtDB      time.Time       `gorm:"column:updated_at_db;not null;autoUpdateTime" json:"updated_at_db"`
}

func (Job) TableName() string { return "fact_jobs" }

// Lead is an inbound lead keyed by the source UUID.
type Lead struct {
	LeadID       string          `gorm:"column:lead_id;type:varchar(64);primaryKey" json:"lead_id"`
	CreatedAt    time.Time       `gorm:"column:created_at;not null;index:ix_fact_leads_created_at" json:"created_at"`
	Status       string          `gorm:"type:varchar(64)" json:"status"`
	SubStatus    string          `gorm:"type:varchar(64)" json:"sub_status"`
	ContactName  string          `gorm:"type:varchar(255)" json:"contact_name"`
	ContactPhone string          `gorm:"type:varchar(32)" json:"contact_phone"`
	PhoneHash    string          `gorm:"type:varchar(64);index:ix_fact_leads_phone_hash" json:"phone_hash"`
	ContactEmail string          `gorm:"type:varchar(255)" json:"contact_email"`
	Address      string          `gorm:"type:varchar(255)" json:"address"`
	Zip          string          `gorm:"type:varchar(5)" json:"zip"`
	RawSource    string          `gorm:"type:varchar(128)" json:"raw_source"`
	SourceID     int64           `gorm:"not null;index:ix_fact_leads_source_id" json:"source_id"`
	Cost         decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"cost"`
	JobID        *string         `gorm:"type:varchar(64)" json:"job_id,omitempty"`
	Meta         datatypes.JSON  `json:"meta"`
	CreatedAtDB  time.Time       `gorm:"column:created_at_db;not null;autoCreateTime" json:"created_at_db"`
	UpdatedAtDB  time.Time       `gorm:"column:updated_at_db;not null;autoUpdateTime" json:"updated_at_db"`
}

func (Lead) TableName() string { return "fact_leads" }

// Payment is a payment against a job.
type Payment struct {
	PaymentID   string          `gorm:"column:payment_id;type:varchar(64);primaryKey" json:"payment_id"`
	JobID       string          `gorm:"type:varchar(64);not null;index:ix_fact_payments_job_id" json:"job_id"`
	PaidAt      time.Time       `gorm:"not null;index:ix_fact_payments_paid_at" json:"paid_at"`
	Amount      decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Method      string          `gorm:"type:varchar(64)" json:"method"`
	Meta        datatypes.JSON  `json:"meta"`
	CreatedAtDB time.Time       `gorm:"column:created_at_db;not null;autoCreateTime" json:"created_at_db"`
	UpdatedAtDB time.Time       `gorm:"column:updated_at_db;not null;autoUpdateTime" json:"updated_at_db"`
}

func (Payment) TableName() string { return "fact_payments" }

// Call is a tracked phone call exported from the call portal.
type Call struct {
	CallID    string    `gorm:"column:call_id;type:varchar(64);primaryKey" json:"call_id"`
	Date      time.Time `gorm:"not null;index:ix_calls_date" json:"date"`
	Duration  int       `gorm:"not null;default:0;check:chk_calls_duration,duration >= 0" json:"duration"`
	CallType  string    `gorm:"type:varchar(64)" json:"call_type"`
	Source    string    `gorm:"type:varchar(64);not null;default:'elocals'" json:"source"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (Call) TableName() string { return "calls" }

// PaidLead is a lead billed by a pay-per-lead marketplace.
type PaidLead struct {
	LeadID    string          `gorm:"column:lead_id;type:varchar(64);primaryKey" json:"lead_id"`
	Date      time.Time       `gorm:"not null;index:ix_paid_leads_date" json:"date"`
	Cost      decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"cost"`
	Status    string          `gorm:"type:varchar(64)" json:"status"`
	CreatedAt time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (PaidLead) TableName() string { return "paid_leads" }

// AdSpend is daily spend per advertising campaign.
type AdSpend struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	Date      time.Time       `gorm:"not null;uniqueIndex:ux_ad_spend_date_campaign" json:"date"`
	Campaign  string          `gorm:"type:varchar(128);not null;uniqueIndex:ux_ad_spend_date_campaign" json:"campaign"`
	Amount    decimal.Decimal `gorm:"type:numeric(12,2);not null;default:0" json:"amount"`
	UpdatedAt time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (AdSpend) TableName() string { return "ad_spend" }

// MetricValues is the computed tuple shared by daily and monthly rollups.
// Ratios are null when their denominator is zero.
type MetricValues struct {
	Leads          int64               `gorm:"not null;default:0" json:"leads"`
	Units          int64               `gorm:"not null;default:0" json:"units"`
	Repairs        int64               `gorm:"not null;default:0" json:"repairs"`
	RevenueGross   decimal.Decimal     `gorm:"type:numeric(14,2);not null;default:0" json:"revenue_gross"`
	RevenueNet     decimal.Decimal     `gorm:"type:numeric(14,2);not null;default:0" json:"revenue_net"`
	Cost           decimal.Decimal     `gorm:"type:numeric(14,2);not null;default:0" json:"cost"`
	Profit         decimal.Decimal     `gorm:"type:numeric(14,2);not null;default:0" json:"profit"`
	Calls          int64               `gorm:"not null;default:0" json:"calls"`
	AdSpend        decimal.Decimal     `gorm:"type:numeric(14,2);not null;default:0" json:"ad_spend"`
	CPL            decimal.NullDecimal `gorm:"column:cpl;type:numeric(14,4)" json:"cpl"`
	CostPerUnit    decimal.NullDecimal `gorm:"type:numeric(14,4)" json:"cost_per_unit"`
	ConvLeadUnit   decimal.NullDecimal `gorm:"type:numeric(10,4)" json:"conv_lead_unit"`
	ConvLeadRepair decimal.NullDecimal `gorm:"type:numeric(10,4)" json:"conv_lead_repair"`
	ConvUnitRepair decimal.NullDecimal `gorm:"type:numeric(10,4)" json:"conv_unit_repair"`
}

// DailyMetric is the per-day rollup row, unique per (date, source, segment).
type DailyMetric struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Date         time.Time `gorm:"not null;uniqueIndex:ux_daily_metrics_key,priority:1" json:"date"`
	Source       string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_daily_metrics_key,priority:2" json:"source"`
	Segment      string    `gorm:"type:varchar(8);not null;uniqueIndex:ux_daily_metrics_key,priority:3" json:"segment"`
	MetricValues `gorm:"embedded"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (DailyMetric) TableName() string { return "daily_metrics" }

// MonthlyMetric is the per-month rollup row keyed by the first day of the month.
type MonthlyMetric struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Month        time.Time `gorm:"not null;uniqueIndex:ux_monthly_metrics_key,priority:1" json:"month"`
	Source       string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_monthly_metrics_key,priority:2" json:"source"`
	Segment      string    `gorm:"type:varchar(8);not null;uniqueIndex:ux_monthly_metrics_key,priority:3" json:"segment"`
	MetricValues `gorm:"embedded"`
	UpdatedAt    time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}

func (MonthlyMetric) TableName() string { return "monthly_metrics" }

// AllModels lists every persistent model in dependency order.
func AllModels() []any {
	return []any{
		&Source{},
		&DateDim{},
		&Job{},
		&Lead{},
		&Payment{},
		&Call{},
		&PaidLead{},
		&AdSpend{},
		&DailyMetric{},
		&MonthlyMetric{},
	}
}
