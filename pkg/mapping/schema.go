package mapping

import (
	"fmt"
	"strings"
)

type RecordType string

const (
	TypeDiagnosis RecordType = "diagnosis"
	TypeTreatment RecordType = "treatment"
)

const (
	LabelDataSource      = "DataSource"
	LabelSampleDiagnosis = "SampleDiagnosis"
	LabelOriginTissue    = "OriginTissue"
	LabelTumorType       = "TumorType"
	LabelTreatmentName   = "TreatmentName"
)

// AttributeRule describes how one attribute contributes to a similarity
// score. A positive Weight multiplies the raw distance; otherwise the
// distance is used as is up to Threshold and replaced by Penalty beyond it.
type AttributeRule struct {
	Weight    int
	Threshold int
	Penalty   int
}

func (r AttributeRule) contribution(distance int) int {
	if r.Weight > 0 {
		return distance * r.Weight
	}
	if distance > r.Threshold {
		return r.Penalty
	}
	return distance
}

// Schema is the fixed attribute layout and scoring table of one record type.
type Schema struct {
	Type    RecordType
	Labels  []string
	Primary string
	Rules   map[string]AttributeRule
	// Relabel rewrites ontology style "Malignant ... Neoplasm" phrases in
	// the primary attribute.
	Relabel bool
}

var secondaryRule = AttributeRule{Threshold: 4, Penalty: 1}

func (s *Schema) rule(label string) AttributeRule {
	if r, ok := s.Rules[label]; ok {
		return r
	}
	return secondaryRule
}

var schemas = map[RecordType]*Schema{
	TypeDiagnosis: {
		Type:    TypeDiagnosis,
		Labels:  []string{LabelDataSource, LabelSampleDiagnosis, LabelOriginTissue, LabelTumorType},
		Primary: LabelSampleDiagnosis,
		Rules: map[string]AttributeRule{
			LabelSampleDiagnosis: {Weight: 5},
			LabelOriginTissue:    {Threshold: 4, Penalty: 50},
		},
		Relabel: true,
	},
	TypeTreatment: {
		Type:    TypeTreatment,
		Labels:  []string{LabelDataSource, LabelTreatmentName},
		Primary: LabelTreatmentName,
		Rules: map[string]AttributeRule{
			LabelTreatmentName: {Weight: 5},
		},
	},
}

// Types lists the known record types in a fixed order.
func Types() []RecordType {
	return []RecordType{TypeDiagnosis, TypeTreatment}
}

func SchemaFor(t RecordType) (*Schema, bool) {
	s, ok := schemas[t]
	return s, ok
}

func ParseRecordType(raw string) (RecordType, error) {
	t := RecordType(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := schemas[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, raw)
	}
	return t, nil
}

// LabelsFor returns a copy of the attribute labels of t.
func LabelsFor(t RecordType) []string {
	s, ok := schemas[t]
	if !ok {
		return nil
	}
	return append([]string(nil), s.Labels...)
}
