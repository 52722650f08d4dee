package common

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// datasetTimeFormat is lexicographically sortable, so "newest dataset for
// source X" is an ordering query over IDs rather than a scan.
const datasetTimeFormat = "20060102T150405.000"

// NewConfigID generates a unique research configuration ID
// Format: cfg_<uuid>
func NewConfigID() string {
	return "cfg_" + uuid.New().String()
}

// NewSessionID generates a unique research session ID
// Format: ses_<uuid>
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}

// NewRawDatasetID generates a raw dataset ID encoding source type and a
// sortable collection timestamp.
// Format: raw_<source>_<timestamp>_<short-uuid>
func NewRawDatasetID(sourceType string, collectedAt time.Time) string {
	return "raw_" + sourceType + "_" + collectedAt.UTC().Format(datasetTimeFormat) + "_" + shortID()
}

// NewAnalyzedDatasetID generates an analyzed dataset ID mirroring the raw
// dataset ID shape.
// Format: ana_<source>_<timestamp>_<short-uuid>
func NewAnalyzedDatasetID(sourceType string, analyzedAt time.Time) string {
	return "ana_" + sourceType + "_" + analyzedAt.UTC().Format(datasetTimeFormat) + "_" + shortID()
}

func shortID() string {
	return strings.SplitN(uuid.New().String(), "-", 2)[0]
}
