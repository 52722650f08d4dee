package interfaces

import (
	"context"

	"github.com/ternarybob/indago/internal/models"
)

// ProgressFunc receives running counters during collection. Implementations
// are called at a bounded cadence, never per-item.
type ProgressFunc func(itemsFound int)

// Collector fetches raw content from one external platform and normalizes it
// into the common raw-item shape. A partial dataset alongside a non-nil
// error is valid: platform-wide failures preserve whatever was collected.
type Collector interface {
	SourceType() models.SourceType
	Collect(ctx context.Context, config *models.ResearchConfiguration, sessionID string, progress ProgressFunc) (*models.RawDataset, error)
}
