package models

import "fmt"

// SourceType identifies the external platform a collector targets
type SourceType string

const (
	SourceTypeForum      SourceType = "forum"      // Discussion forum (Reddit-style JSON API)
	SourceTypeAggregator SourceType = "aggregator" // News aggregator (Hacker News-style search API)
	SourceTypeCodeHost   SourceType = "codehost"   // Code hosting platform (GitHub)
)

// KnownSourceTypes lists every source type a configuration may use
var KnownSourceTypes = []SourceType{SourceTypeForum, SourceTypeAggregator, SourceTypeCodeHost}

// IsValid returns true when the source type is a known platform
func (s SourceType) IsValid() bool {
	for _, known := range KnownSourceTypes {
		if s == known {
			return true
		}
	}
	return false
}

// ValidateSourceType rejects unknown source types with an actionable error
func ValidateSourceType(s SourceType) error {
	if !s.IsValid() {
		return fmt.Errorf("unknown source type %q (valid: forum, aggregator, codehost)", s)
	}
	return nil
}

// AnalysisDepth controls how many collected items reach the AI provider
type AnalysisDepth string

const (
	AnalysisDepthQuick         AnalysisDepth = "quick"
	AnalysisDepthStandard      AnalysisDepth = "standard"
	AnalysisDepthComprehensive AnalysisDepth = "comprehensive"
)

// IsValid returns true for a known analysis depth
func (d AnalysisDepth) IsValid() bool {
	switch d {
	case AnalysisDepthQuick, AnalysisDepthStandard, AnalysisDepthComprehensive:
		return true
	}
	return false
}

// ItemBudget returns the maximum number of items submitted to the AI
// provider for this depth. Zero means no cap.
func (d AnalysisDepth) ItemBudget() int {
	switch d {
	case AnalysisDepthQuick:
		return 10
	case AnalysisDepthStandard:
		return 50
	case AnalysisDepthComprehensive:
		return 0
	default:
		return 50
	}
}
