package mapping

import (
	"slices"
	"sort"
	"strings"
	"sync"
)

type indexEntry struct {
	record *Record
	seq    uint64
}

// Index holds records deduplicated by canonical key. Iteration follows first
// insertion order, which overwrites keep, so results are reproducible for a
// fixed set of inserts.
//
// Records returned by the index are shared. Clone before modifying and Add
// the clone back.
type Index struct {
	mu      sync.RWMutex
	entries map[string]*indexEntry
	byID    map[int64]string
	nextSeq uint64
}

func NewIndex() *Index {
	return &Index{
		entries: make(map[string]*indexEntry),
		byID:    make(map[int64]string),
	}
}

// Add inserts or replaces the record stored under its key.
func (idx *Index) Add(rec *Record) error {
	if rec == nil || rec.Key == "" {
		return ErrEmptyKey
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if existing, ok := idx.entries[rec.Key]; ok {
		idx.unlinkID(existing.record)
		existing.record = rec
	} else {
		idx.nextSeq++
		idx.entries[rec.Key] = &indexEntry{record: rec, seq: idx.nextSeq}
	}
	if rec.EntityID != 0 {
		idx.byID[rec.EntityID] = rec.Key
	}
	return nil
}

// AddAll stops at the first record without a key.
func (idx *Index) AddAll(records []*Record) error {
	for _, rec := range records {
		if err := idx.Add(rec); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Index) Get(key string) (*Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[key]
	if !ok {
		return nil, false
	}
	return e.record, true
}

func (idx *Index) GetByEntityID(id int64) (*Record, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	key, ok := idx.byID[id]
	if !ok {
		return nil, false
	}
	return idx.entries[key].record, true
}

// Remove drops the given records by key and returns how many were present.
func (idx *Index) Remove(records ...*Record) int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	removed := 0
	for _, rec := range records {
		e, ok := idx.entries[rec.Key]
		if !ok {
			continue
		}
		idx.unlinkID(e.record)
		delete(idx.entries, rec.Key)
		removed++
	}
	return removed
}

func (idx *Index) unlinkID(rec *Record) {
	if rec.EntityID != 0 && idx.byID[rec.EntityID] == rec.Key {
		delete(idx.byID, rec.EntityID)
	}
}

func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func (idx *Index) All() []*Record {
	return idx.Find(Filter{})
}

func (idx *Index) ByType(t RecordType) []*Record {
	return idx.Find(Filter{Types: []RecordType{t}})
}

// View restricts a query to mapped or unmapped records.
type View int

const (
	ViewAll View = iota
	ViewMapped
	ViewUnmapped
)

// Filter selects records. Zero fields match everything.
type Filter struct {
	Types []RecordType
	// Label and Value match one attribute, ignoring case.
	Label string
	Value string
	// MappedTerm matches a substring of the mapped term label, ignoring
	// case. The unmapped sentinel only matches itself.
	MappedTerm string
	MapMethod  string
	Statuses   []Status
	View       View
}

func (f Filter) Match(rec *Record) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, rec.Type) {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, rec.Status) {
		return false
	}
	if f.Label != "" && !strings.EqualFold(lookupLabel(rec.Values, f.Label), strings.TrimSpace(f.Value)) {
		return false
	}
	if f.MapMethod != "" && !strings.EqualFold(rec.MapMethod, f.MapMethod) {
		return false
	}
	if f.MappedTerm != "" {
		if f.MappedTerm == UnmappedTerm {
			if !rec.IsUnmapped() {
				return false
			}
		} else if !strings.Contains(strings.ToLower(rec.MappedTermLabel), strings.ToLower(f.MappedTerm)) {
			return false
		}
	}
	switch f.View {
	case ViewMapped:
		return rec.IsMapped()
	case ViewUnmapped:
		return rec.IsUnmapped()
	}
	return true
}

// Find returns matching records in insertion order.
func (idx *Index) Find(f Filter) []*Record {
	idx.mu.RLock()
	matched := make([]indexEntry, 0, len(idx.entries))
	for _, e := range idx.entries {
		if f.Match(e.record) {
			matched = append(matched, *e)
		}
	}
	idx.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })
	out := make([]*Record, len(matched))
	for i, e := range matched {
		out[i] = e.record
	}
	return out
}
