package rulefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/mapping"
)

var (
	ErrRulesNotFound = errors.New("mapping rules not found")
	ErrMalformed     = errors.New("malformed rule file")
)

// File is the on-disk shape of <type>_mappings.json.
type File struct {
	Mappings []Entry `json:"mappings"`
}

type Entry struct {
	EntityID        int64             `json:"entityId"`
	EntityType      string            `json:"entityType,omitempty"`
	MappingLabels   []string          `json:"mappingLabels,omitempty"`
	MappingValues   map[string]string `json:"mappingValues"`
	MappedTermLabel string            `json:"mappedTermLabel"`
	MappedTermURL   string            `json:"mappedTermUrl"`
	MapType         string            `json:"mapType"`
	Justification   string            `json:"justification"`
	Status          string            `json:"status"`
	MappingKey      string            `json:"mappingKey,omitempty"`
}

// Decode parses a whole rule file for one record type. Any syntax error or
// invalid status fails the file; rows without a mapped term or primary
// attribute are skipped.
func Decode(r io.Reader, t mapping.RecordType) ([]*mapping.Record, error) {
	var file File
	if err := json.NewDecoder(r).Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	records := make([]*mapping.Record, 0, len(file.Mappings))
	skipped := 0
	for i, entry := range file.Mappings {
		rec, err := entry.record(t)
		if err != nil {
			if errors.Is(err, mapping.ErrIncompleteIdentity) {
				skipped++
				continue
			}
			return nil, fmt.Errorf("%w: row %d: %v", ErrMalformed, i, err)
		}
		if rec == nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	if skipped > 0 {
		logger.Log.WithFields(map[string]interface{}{
			"entity_type": t,
			"skipped":     skipped,
		}).Debug("Skipped rule rows without a term or primary value")
	}
	return records, nil
}

func (e Entry) record(t mapping.RecordType) (*mapping.Record, error) {
	if strings.TrimSpace(e.MappedTermLabel) == "" {
		return nil, nil
	}

	rec, err := mapping.NewRecord(string(t), e.MappingValues)
	if err != nil {
		return nil, err
	}

	rec.EntityID = e.EntityID
	rec.MappedTermLabel = e.MappedTermLabel
	rec.MappedTermURL = e.MappedTermURL
	rec.MapMethod = strings.ToLower(strings.TrimSpace(e.MapType))
	rec.Justification = mapping.NormalizeValue(e.Justification)

	if strings.TrimSpace(e.Status) != "" {
		status, err := mapping.ParseStatus(e.Status)
		if err != nil {
			return nil, err
		}
		rec.Status = status
	}
	return rec, nil
}

// EntryFrom converts a record to its rule-file row.
func EntryFrom(rec *mapping.Record) Entry {
	values := make(map[string]string, len(rec.Values))
	for k, v := range rec.Values {
		values[k] = v
	}
	return Entry{
		EntityID:        rec.EntityID,
		EntityType:      string(rec.Type),
		MappingLabels:   append([]string(nil), rec.Labels...),
		MappingValues:   values,
		MappedTermLabel: rec.MappedTermLabel,
		MappedTermURL:   rec.MappedTermURL,
		MapType:         rec.MapMethod,
		Justification:   rec.Justification,
		Status:          string(rec.Status),
		MappingKey:      rec.Key,
	}
}

// Encode writes records in rule-file form, in the order given.
func Encode(w io.Writer, records []*mapping.Record) error {
	file := File{Mappings: make([]Entry, 0, len(records))}
	for _, rec := range records {
		file.Mappings = append(file.Mappings, EntryFrom(rec))
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(file); err != nil {
		return fmt.Errorf("failed to encode rule file: %w", err)
	}
	return nil
}
