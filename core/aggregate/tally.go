// Package aggregate holds the processing collaborators the pipeline
// invokes: record aggregation and summary enrichment. The aggregation
// here is a simple per-region tally; the pipeline treats it as opaque.
package aggregate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TallyAggregator counts records per region key and joins optional
// geographic labels from the geo document.
type TallyAggregator struct {
	// RegionField names the record field used as the tally key.
	RegionField string
}

// NewTallyAggregator returns an aggregator keyed on the "region" field.
func NewTallyAggregator() *TallyAggregator {
	return &TallyAggregator{RegionField: "region"}
}

// Summary is the aggregation output.
type Summary struct {
	TotalRecords int               `json:"totalRecords"`
	Regions      map[string]int    `json:"regions"`
	Labels       map[string]string `json:"labels,omitempty"`
	ComputedAt   time.Time         `json:"computedAt"`
}

// Aggregate tallies records per region. The document must be a JSON array
// of objects; the geo document, when present, is an object mapping region
// keys to display labels.
func (a *TallyAggregator) Aggregate(ctx context.Context, document, geoDocument []byte) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []map[string]any
	if err := json.Unmarshal(document, &records); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	field := a.RegionField
	if field == "" {
		field = "region"
	}
	summary := Summary{
		Regions:    make(map[string]int),
		ComputedAt: time.Now().UTC(),
	}
	for _, rec := range records {
		summary.TotalRecords++
		key, _ := rec[field].(string)
		if key == "" {
			key = "unknown"
		}
		summary.Regions[key]++
	}

	if len(geoDocument) > 0 {
		var labels map[string]string
		if err := json.Unmarshal(geoDocument, &labels); err != nil {
			return nil, fmt.Errorf("decode geo document: %w", err)
		}
		summary.Labels = make(map[string]string, len(summary.Regions))
		for key := range summary.Regions {
			if label, ok := labels[key]; ok {
				summary.Labels[key] = label
			}
		}
		if len(summary.Labels) == 0 {
			summary.Labels = nil
		}
	}

	out, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encode summary: %w", err)
	}
	return out, nil
}
