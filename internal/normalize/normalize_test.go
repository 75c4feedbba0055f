package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/abcmetrics/internal/ingest/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func TestPhoneNormalization(t *testing.T) {
	assert.Equal(t, "2345678901", Phone("+1 (234) 567-8901"))
	assert.Equal(t, "2345678901", Phone("234-567-8901"))
	assert.Equal(t, "", Phone("n/a"))
	assert.Equal(t, PhoneHash("+1 (234) 567-8901"), PhoneHash("234.567.8901"))
	assert.Equal(t, "", PhoneHash(""))
}

func TestZip(t *testing.T) {
	assert.Equal(t, "02134", Zip("2134"))
	assert.Equal(t, "78701", Zip("78701-1234"))
	assert.Equal(t, "", Zip(" "))
}

func TestSourceCode(t *testing.T) {
	cases := map[string]string{
		"Pro Referral":   "pro_referral",
		" PRO_REFERRAL ": "pro_referral",
		"pro--referral":  "pro_referral",
		"eLocals":        "elocals",
		"Google":         "google",
		"":               "",
		"Liberty (Home)": "liberty_home",
	}
	for in, want := range cases {
		assert.Equal(t, want, SourceCode(in), "input %q", in)
	}
	assert.Equal(t, "Pro Referral", SourceName("pro_referral"))
	assert.Equal(t, "Home Advisor", SourceName("home_advisor"))
}

func TestPayloadPhonesIsRecursive(t *testing.T) {
	payload := map[string]any{
		"Phone": "+1 (234) 567-8901",
		"Notes": "call 234-567-8901",
		"Contacts": []any{
			map[string]any{"mobile": "1-234-567-8901"},
		},
		"AltPhones": []any{"(234) 567-8901"},
	}

	out := PayloadPhones(payload).(map[string]any)

	assert.Equal(t, "2345678901", out["Phone"])
	assert.Equal(t, "call 234-567-8901", out["Notes"])
	assert.Equal(t, "2345678901", out["Contacts"].([]any)[0].(map[string]any)["mobile"])
	assert.Equal(t, []any{"2345678901"}, out["AltPhones"])
	assert.Equal(t, "+1 (234) 567-8901", payload["Phone"], "input must not be mutated")
}

func TestPayloadPhonesNormalizesNumbers(t *testing.T) {
	payload := map[string]any{
		"Phone":     json.Number("12345678901"),
		"AltPhone":  2345678901.0,
		"caller_id": json.Number("1.2345678901e10"),
		"Amount":    json.Number("12345678901"),
	}

	out := PayloadPhones(payload).(map[string]any)

	assert.Equal(t, "2345678901", out["Phone"])
	assert.Equal(t, "2345678901", out["AltPhone"])
	assert.Equal(t, "2345678901", out["caller_id"])
	assert.Equal(t, json.Number("12345678901"), out["Amount"])
}

func TestJobMetaNormalizesNumericPhone(t *testing.T) {
	raw := Raw{
		"UUID":     "j1",
		"Phone":    json.Number("12345678901"),
		"Contacts": []any{map[string]any{"phone": "+1 (234) 567-8901"}},
	}

	rec, err := Job(raw, now)
	require.NoError(t, err)
	assert.Equal(t, "2345678901", rec.Job.ContactPhone)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(rec.Job.Meta, &stored))
	assert.Equal(t, "2345678901", stored["Phone"])
	assert.Equal(t, "2345678901", stored["Contacts"].([]any)[0].(map[string]any)["phone"])
}

func TestDuration(t *testing.T) {
	cases := map[string]int{"45": 45, "2:05": 125, "1:00:01": 3601, "12.9": 12}
	for in, want := range cases {
		got, ok := Duration(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := Duration("abc")
	assert.False(t, ok)
}

func TestDateFallsBackWhenUnparseable(t *testing.T) {
	assert.Equal(t, now, Date("not a date", now))
	assert.Equal(t, now, Date(nil, now))
	assert.Equal(t, time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC), Date("2024-02-01 09:30:00", now))
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), Date("02/01/2024", now))
}

func TestJobFieldFallbacks(t *testing.T) {
	raw := Raw{
		"id":          "job-1",
		"Type":        "COD Service",
		"CreatedDate": "2024-03-01 10:00:00",
		"SubTotal":    json.Number("180.50"),
		"item_cost":   20.0,
		"tech_cost":   "30",
		"Team":        []any{map[string]any{"name": "Sam"}},
		"FirstName":   "Ada",
		"LastName":    "Lovelace",
		"Phone":       "+1 (234) 567-8901",
		"PostalCode":  "2134",
	}

	rec, err := Job(raw, now)
	require.NoError(t, err)

	assert.Equal(t, "job-1", rec.Job.JobID)
	assert.Equal(t, "workiz", rec.Source)
	assert.Equal(t, "COD Service", rec.Job.Type)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), rec.Job.OccurredAt)
	assert.Nil(t, rec.Job.ScheduledAt)
	assert.True(t, rec.Job.Price.Equal(decimal.RequireFromString("180.50")))
	assert.True(t, rec.Job.TotalCost.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, "Sam", rec.Job.Technician)
	assert.Equal(t, "Ada Lovelace", rec.Job.ContactName)
	assert.Equal(t, "2345678901", rec.Job.ContactPhone)
	assert.Equal(t, "02134", rec.Job.Zip)

	var stored map[string]any
	require.NoError(t, json.Unmarshal(rec.Job.Meta, &stored))
	assert.Equal(t, "2345678901", stored["Phone"])
	assert.Equal(t, "Ada", stored["FirstName"])
}

func TestJobWithoutKeyIsRejected(t *testing.T) {
	_, err := Job(Raw{"Type": "COD Service"}, now)
	assert.ErrorIs(t, err, domain.ErrMissingKey)
}

func TestJobWithoutDateUsesNow(t *testing.T) {
	rec, err := Job(Raw{"UUID": "j", "JobSource": "Google"}, now)
	require.NoError(t, err)
	assert.Equal(t, now, rec.Job.OccurredAt)
	assert.Equal(t, "Google", rec.Source)
}

func TestLeadCostRules(t *testing.T) {
	rec, err := Lead(Raw{"UUID": "l1", "JobSource": "Pro Referral"}, now)
	require.NoError(t, err)
	assert.True(t, rec.Lead.Cost.Equal(decimal.NewFromInt(20)))
	assert.Equal(t, "New", rec.Lead.Status)

	rec, err = Lead(Raw{"UUID": "l2", "JobSource": "Pro Referral", "Status": "Passed"}, now)
	require.NoError(t, err)
	assert.True(t, rec.Lead.Cost.IsZero())

	rec, err = Lead(Raw{"UUID": "l3", "source": "google", "Cost": 12.5}, now)
	require.NoError(t, err)
	assert.True(t, rec.Lead.Cost.Equal(decimal.RequireFromString("12.5")))

	rec, err = Lead(Raw{"UUID": "l4"}, now)
	require.NoError(t, err)
	assert.Equal(t, "Unknown", rec.Source)
}

func TestPaymentRequiresJobAndAmount(t *testing.T) {
	_, err := Payment(Raw{"UUID": "p1", "Amount": 10.0}, now)
	assert.ErrorIs(t, err, domain.ErrMissingJob)

	_, err = Payment(Raw{"UUID": "p1", "JobUUID": "j1", "Amount": "ten"}, now)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	p, err := Payment(Raw{"id": "p2", "job_id": "j1", "amount": "$1,250.00", "PaymentType": "card"}, now)
	require.NoError(t, err)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(1250)))
	assert.Equal(t, "card", p.Method)
	assert.Equal(t, now, p.PaidAt)
}

func TestCallRow(t *testing.T) {
	call, err := Call(CallRow{ID: "c1", Date: "03/01/2024 14:05", Duration: "2:30", Type: "Answered"})
	require.NoError(t, err)
	assert.Equal(t, 150, call.Duration)
	assert.Equal(t, "elocals", call.Source)

	_, err = Call(CallRow{Date: "2024-03-01"})
	assert.ErrorIs(t, err, domain.ErrMissingKey)

	_, err = Call(CallRow{ID: "c2", Date: "yesterday"})
	assert.ErrorIs(t, err, domain.ErrMissingDate)
}
