package pricing

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Rate is what one submission type earns: the task reward and the two referral tiers.
type Rate struct {
	Price int64 `json:"price"`
	Tier1 int64 `json:"tier1"`
	Tier2 int64 `json:"tier2"`
}

// Rates maps a submission type to its rate. Stored as JSONB.
type Rates map[string]Rate

// Value implements driver.Valuer
func (r Rates) Value() (driver.Value, error) {
	if r == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner
func (r *Rates) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*r = Rates{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("pricing: unsupported rates column type")
	}
	return json.Unmarshal(data, r)
}

// Version is one published pricing table. Versions are never edited; a change
// publishes a new version.
type Version struct {
	Version         int           `db:"version" json:"version"`
	Rates           Rates         `db:"rates" json:"rates"`
	ExchangeRateBps int64         `db:"exchange_rate_bps" json:"exchange_rate_bps"`
	Note            string        `db:"note" json:"note,omitempty"`
	CreatedBy       uuid.NullUUID `db:"created_by" json:"created_by"`
	CreatedAt       time.Time     `db:"created_at" json:"created_at"`
}

// RateFor returns the rate of one submission type.
func (v *Version) RateFor(submissionType string) (Rate, error) {
	rate, ok := v.Rates[submissionType]
	if !ok {
		return Rate{}, ErrNoRateForType
	}
	return rate, nil
}
