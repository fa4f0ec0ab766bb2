package usage

import (
	"time"

	"github.com/metergate/metergate/pkg/billing"
)

// Record is one billing period's usage counters for a user. Records for
// past periods are immutable history; only the record for the current
// window ever receives increments.
type Record struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	PeriodStart   time.Time `json:"period_start"`
	PeriodEnd     time.Time `json:"period_end"`
	APICalls      int64     `json:"api_calls"`
	ItemsCreated  int64     `json:"items_created"`
	StorageMB     int64     `json:"storage_mb"`
	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

// Counter returns the record's count for the given dimension
func (r *Record) Counter(d billing.Dimension) int64 {
	switch d {
	case billing.DimensionAPICalls:
		return r.APICalls
	case billing.DimensionItemsCreated:
		return r.ItemsCreated
	case billing.DimensionStorageMB:
		return r.StorageMB
	default:
		return 0
	}
}

// Window returns the record's billing window
func (r *Record) Window() billing.Window {
	return billing.Window{Start: r.PeriodStart, End: r.PeriodEnd}
}
