package interfaces

import (
	"context"

	"github.com/ternarybob/indago/internal/models"
)

// AnalysisRequest carries one raw item plus the research context it should
// be judged against.
type AnalysisRequest struct {
	QueryTerms []string
	Item       *models.RawItem
}

// AnalysisProvider is the external AI analysis provider, treated as a black
// box returning structured records. Provider non-determinism is acceptable;
// callers compare results structurally, not by exact value.
type AnalysisProvider interface {
	// AnalyzeItem returns the structured analysis for one item. Transient
	// failures (rate limit, timeout) should be returned as-is; the worker
	// owns retry policy.
	AnalyzeItem(ctx context.Context, req *AnalysisRequest) (*models.ItemAnalysis, error)
}
