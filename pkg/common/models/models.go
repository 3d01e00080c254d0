package models

import (
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // attribute.detected, mapping.unmapped, mapping.validated, ...
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventAttributeDetected = "attribute.detected"
	EventMappingUnmapped   = "mapping.unmapped"
	EventMappingValidated  = "mapping.validated"
	EventMappingsRebuilt   = "mapping.rebuilt"
	EventRulesWritten      = "mapping.rules_written"
	EventUnmappedPurged    = "mapping.purged"
	EventOrphansMarked     = "mapping.orphaned"
)

// SourceAttribute is one raw attribute combination reported by an upstream
// data provider, e.g. a (datasource, diagnosis, tissue, tumor type) row.
type SourceAttribute struct {
	Provider string            `json:"provider"`
	Type     string            `json:"type"`
	Values   map[string]string `json:"values"`
}

// SourceAttributeFromEvent reads the attribute payload out of an
// attribute.detected event. Non-string values are ignored.
func SourceAttributeFromEvent(event Event) (SourceAttribute, bool) {
	attr := SourceAttribute{Provider: event.Source, Values: map[string]string{}}
	t, ok := event.Data["type"].(string)
	if !ok || t == "" {
		return attr, false
	}
	attr.Type = t
	if p, ok := event.Data["provider"].(string); ok && p != "" {
		attr.Provider = p
	}
	raw, ok := event.Data["values"].(map[string]interface{})
	if !ok {
		return attr, false
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			attr.Values[k] = s
		}
	}
	return attr, true
}
