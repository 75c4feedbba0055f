package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"gorm.io/datatypes"
)

// ProReferralLeadCost is charged per pro-referral lead unless the lead was passed on.
var ProReferralLeadCost = decimal.NewFromInt(20)

// JobRecord is a normalized job plus the raw source label that the writer resolves.
type JobRecord struct {
	Job    domain.Job
	Source string
}

// LeadRecord is a normalized lead plus its raw source label.
type LeadRecord struct {
	Lead   domain.Lead
	Source string
}

// Job maps a job payload. It fails only when no natural key is present.
func Job(raw Raw, now time.Time) (JobRecord, error) {
	id := str(raw, "UUID", "id", "unique_id")
	if id == "" {
		return JobRecord{}, domain.ErrMissingKey
	}
	source := str(raw, "JobSource", "Source", "source")
	if source == "" {
		source = SourceWorkiz
	}

	job := domain.Job{
		JobID:            id,
		OccurredAt:       Date(timeField(raw, "JobDateTime", "date", "CreatedDate", "created_at"), now),
		ScheduledAt:      optionalTime(raw, "JobDateTime"),
		EndAt:            optionalTime(raw, "JobEndDateTime"),
		LastStatusUpdate: optionalTime(raw, "LastStatusUpdate"),
		Type:             str(raw, "JobType", "Type", "type"),
		Status:           str(raw, "Status", "status"),
		SubStatus:        str(raw, "SubStatus", "sub_status"),
		Technician:       firstNonEmpty(str(raw, "Technician", "TechnicianName"), teamName(raw)),
		ClientID:         str(raw, "ClientId", "client_id"),
		ContactName:      fullName(raw),
		ContactPhone:     Phone(str(raw, "Phone", "phone")),
		ContactEmail:     strings.ToLower(str(raw, "Email", "email")),
		Address:          str(raw, "Address", "address"),
		City:             str(raw, "City", "city"),
		State:            str(raw, "State", "state"),
		Zip:              Zip(str(raw, "PostalCode", "zip", "Zip")),
		RawSource:        source,
		LeadID:           optionalString(str(raw, "LeadId", "lead_id", "LeadUUID")),
		Meta:             meta(raw),
	}
	job.Price, _ = money(raw, "JobTotalPrice", "SubTotal", "Total")
	job.AmountDue, _ = money(raw, "JobAmountDue")

	itemCost, hasItem := money(raw, "item_cost")
	laborCost, hasLabor := money(raw, "tech_cost")
	job.ItemCost, job.LaborCost = itemCost, laborCost
	if hasItem || hasLabor {
		job.TotalCost = itemCost.Add(laborCost)
	} else {
		job.TotalCost, _ = money(raw, "Cost", "cost")
	}

	return JobRecord{Job: job, Source: source}, nil
}

// Lead maps a lead payload.
func Lead(raw Raw, now time.Time) (LeadRecord, error) {
	id := str(raw, "UUID", "id", "lead_id")
	if id == "" {
		return LeadRecord{}, domain.ErrMissingKey
	}
	source := str(raw, "JobSource", "source", "origin", "ReferralCompany")
	if source == "" {
		source = "Unknown"
	}
	status := str(raw, "Status", "status")
	if status == "" {
		status = "New"
	}
	phone := str(raw, "Phone", "phone")

	lead := domain.Lead{
		LeadID:       id,
		CreatedAt:    Date(timeField(raw, "CreatedDate", "LeadDateTime", "created_at"), now),
		Status:       status,
		SubStatus:    str(raw, "SubStatus", "sub_status"),
		ContactName:  fullName(raw),
		ContactPhone: Phone(phone),
		PhoneHash:    PhoneHash(phone),
		ContactEmail: strings.ToLower(str(raw, "Email", "email")),
		Address:      str(raw, "Address", "address"),
		Zip:          Zip(str(raw, "PostalCode", "zip", "Zip")),
		RawSource:    source,
		JobID:        optionalString(str(raw, "JobUUID", "JobId", "job_id")),
		Meta:         meta(raw),
	}
	if cost, ok := money(raw, "Cost", "cost"); ok {
		lead.Cost = cost
	} else if SourceCode(source) == SourceProReferral && !strings.EqualFold(status, "Passed") {
		lead.Cost = ProReferralLeadCost
	}

	return LeadRecord{Lead: lead, Source: source}, nil
}

// Payment maps a payment payload. A job reference and a numeric amount are required.
func Payment(raw Raw, now time.Time) (domain.Payment, error) {
	id := str(raw, "UUID", "id", "payment_id")
	if id == "" {
		return domain.Payment{}, domain.ErrMissingKey
	}
	jobID := str(raw, "JobUUID", "job_id", "JobId")
	if jobID == "" {
		return domain.Payment{}, fmt.Errorf("payment %s: %w", id, domain.ErrMissingJob)
	}
	amount, ok := money(raw, "Amount", "amount")
	if !ok {
		return domain.Payment{}, fmt.Errorf("payment %s: %w", id, domain.ErrInvalidAmount)
	}
	return domain.Payment{
		PaymentID: id,
		JobID:     jobID,
		PaidAt:    Date(timeField(raw, "PaidAt", "paid_at", "Date", "date"), now),
		Amount:    amount,
		Method:    str(raw, "Method", "method", "PaymentType", "payment_type"),
		Meta:      meta(raw),
	}, nil
}

// CallRow is one export row after header mapping.
type CallRow struct {
	ID       string
	Date     string
	Duration string
	Type     string
}

// Call maps an export row. Unparseable durations become zero.
func Call(row CallRow) (domain.Call, error) {
	id := strings.TrimSpace(row.ID)
	if id == "" {
		return domain.Call{}, domain.ErrMissingKey
	}
	date, ok := ParseDate(row.Date)
	if !ok {
		return domain.Call{}, fmt.Errorf("call %s: %w", id, domain.ErrMissingDate)
	}
	duration, _ := Duration(row.Duration)
	return domain.Call{
		CallID:   id,
		Date:     date,
		Duration: duration,
		CallType: strings.TrimSpace(row.Type),
		Source:   SourceElocals,
	}, nil
}

func optionalTime(raw Raw, key string) *time.Time {
	t, ok := asTime(timeField(raw, key))
	if !ok {
		return nil
	}
	return &t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func meta(raw Raw) datatypes.JSON {
	payload, err := json.Marshal(PayloadPhones(map[string]any(raw)))
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(payload)
}
