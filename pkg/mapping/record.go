package mapping

import (
	"fmt"
	"time"
)

// UnmappedTerm marks a record known to have no ontology term. An empty
// MappedTermLabel means the record has not been processed yet.
const UnmappedTerm = "-"

// Record is one attribute combination and the ontology term it resolves to.
type Record struct {
	EntityID        int64             `json:"entityId"`
	Type            RecordType        `json:"entityType"`
	Labels          []string          `json:"mappingLabels"`
	Values          map[string]string `json:"mappingValues"`
	MappedTermLabel string            `json:"mappedTermLabel"`
	MappedTermURL   string            `json:"mappedTermUrl"`
	MapMethod       string            `json:"mapType"`
	Justification   string            `json:"justification"`
	Status          Status            `json:"status"`
	Key             string            `json:"mappingKey"`
	Suggestions     []*Record         `json:"suggestedMappings,omitempty"`
	CreatedAt       time.Time         `json:"dateCreated"`
	UpdatedAt       time.Time         `json:"dateUpdated"`
}

// NewRecord normalizes raw attribute values for the given type and derives
// the canonical key. The primary attribute must be present.
func NewRecord(recordType string, values map[string]string) (*Record, error) {
	t, err := ParseRecordType(recordType)
	if err != nil {
		return nil, err
	}
	schema := schemas[t]

	normalized := schema.Normalize(values)
	if normalized[schema.Primary] == "" {
		return nil, fmt.Errorf("%w: %s is empty", ErrIncompleteIdentity, schema.Primary)
	}

	now := time.Now().UTC()
	return &Record{
		Type:      t,
		Labels:    append([]string(nil), schema.Labels...),
		Values:    normalized,
		Status:    StatusCreated,
		Key:       GenerateKey(string(t), schema.Labels, normalized),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (r *Record) Schema() *Schema {
	return schemas[r.Type]
}

// Value returns the value of label or "" when absent.
func (r *Record) Value(label string) string {
	return r.Values[label]
}

func (r *Record) IsUnmapped() bool {
	return r.MappedTermLabel == UnmappedTerm
}

// IsMapped reports whether the record carries a usable ontology term.
func (r *Record) IsMapped() bool {
	return r.MappedTermLabel != "" && r.MappedTermLabel != UnmappedTerm
}

// SetStatus moves the record to status to and stamps UpdatedAt.
func (r *Record) SetStatus(to Status, at time.Time) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = at
	return nil
}

// Clone returns a deep copy without suggestions. Records shared through an
// Index must be cloned before they are modified.
func (r *Record) Clone() *Record {
	c := *r
	c.Labels = append([]string(nil), r.Labels...)
	c.Values = make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		c.Values[k] = v
	}
	c.Suggestions = nil
	return &c
}
