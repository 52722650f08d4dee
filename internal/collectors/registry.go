package collectors

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/indago/internal/common"
	"github.com/ternarybob/indago/internal/interfaces"
	"github.com/ternarybob/indago/internal/models"
)

// Registry maps source types to their collector implementations
type Registry struct {
	collectors map[models.SourceType]interfaces.Collector
}

// NewRegistry builds the registry with one collector per known source type
func NewRegistry(config *common.Config, logger arbor.ILogger) *Registry {
	r := &Registry{collectors: make(map[models.SourceType]interfaces.Collector)}
	r.Register(NewForumCollector(&config.Collectors.Forum, &config.Research, logger))
	r.Register(NewAggregatorCollector(&config.Collectors.Aggregator, &config.Research, logger))
	r.Register(NewCodeHostCollector(&config.Collectors.CodeHost, &config.Research, logger))
	return r
}

// Register adds or replaces the collector for its source type
func (r *Registry) Register(c interfaces.Collector) {
	r.collectors[c.SourceType()] = c
}

// Get returns the collector for a source type
func (r *Registry) Get(sourceType models.SourceType) (interfaces.Collector, error) {
	c, ok := r.collectors[sourceType]
	if !ok {
		return nil, fmt.Errorf("no collector registered for source type %q", sourceType)
	}
	return c, nil
}
