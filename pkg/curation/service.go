package curation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/common/models"
	"github.com/synaptica-ai/curator/pkg/mapping"
	"github.com/synaptica-ai/curator/pkg/observability/metrics"
	"github.com/synaptica-ai/curator/pkg/rulefile"
)

const eventSource = "mapping-curator"

const rebuildLockKey = "rebuild"

// EventPublisher is satisfied by kafka.Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

type Options struct {
	SuggestionLimit int
	ExportPrefix    string
	ExportSources   []string
}

// Service owns the active mapping index. Reads go to the index; writes go
// to the repository first and then to the index under writeMu.
type Service struct {
	repo     *Repository
	rules    *rulefile.Store
	resolver *mapping.Resolver
	events   EventPublisher
	locker   Locker
	opts     Options

	index      atomic.Pointer[mapping.Index]
	ready      atomic.Bool
	rebuilding atomic.Bool

	writeMu sync.Mutex
	lastID  int64

	now func() time.Time
}

func NewService(repo *Repository, rules *rulefile.Store, opts Options) *Service {
	return &Service{
		repo:     repo,
		rules:    rules,
		resolver: mapping.NewResolver(mapping.NewScorer(mapping.DefaultCosts), opts.SuggestionLimit),
		locker:   NewLocalLocker(),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents publishes lifecycle events through p.
func (s *Service) WithEvents(p EventPublisher) *Service {
	s.events = p
	return s
}

// WithLocker replaces the process-local key locks, e.g. with a RedisLocker
// when several curator instances share a database.
func (s *Service) WithLocker(l Locker) *Service {
	if l != nil {
		s.locker = l
	}
	return s
}

// Initialize loads the persisted records into a fresh index. An empty store
// is seeded from the rule files. It must succeed before any other call.
func (s *Service) Initialize(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	records, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to load mapping records: %w", err)
	}

	var idx *mapping.Index
	if len(records) == 0 {
		logger.Log.Info("Mapping store is empty, seeding from rule files")
		idx, err = s.rules.Load(ctx)
		if err != nil {
			return err
		}
		s.assignIDs(idx)
		if err := s.repo.ReplaceAll(ctx, idx.All()); err != nil {
			return fmt.Errorf("failed to persist seeded records: %w", err)
		}
	} else {
		idx = mapping.NewIndex()
		if err := idx.AddAll(records); err != nil {
			return fmt.Errorf("failed to index stored records: %w", err)
		}
	}

	s.install(idx)
	s.ready.Store(true)

	logger.Log.WithField("records", idx.Len()).Info("Mapping index initialized")
	return nil
}

func (s *Service) Ready() bool {
	return s.ready.Load()
}

// Rebuilding reports whether a rebuild from rule files is running. Reads
// keep serving the previous index until the new one is swapped in.
func (s *Service) Rebuilding() bool {
	return s.rebuilding.Load()
}

func (s *Service) activeIndex() (*mapping.Index, error) {
	if !s.ready.Load() {
		return nil, ErrNotReady
	}
	return s.index.Load(), nil
}

// install swaps idx in and refreshes derived state. Callers hold writeMu.
func (s *Service) install(idx *mapping.Index) {
	var maxID int64
	for _, rec := range idx.All() {
		maxID = max(maxID, rec.EntityID)
	}
	s.lastID = maxID
	s.index.Store(idx)
	observeIndex(idx)
}

// assignIDs numbers records that came without an entity id or reuse one
// already taken, e.g. when both rule files count from 1. Callers hold
// writeMu or own idx exclusively.
func (s *Service) assignIDs(idx *mapping.Index) {
	records := idx.All()
	var next int64
	for _, rec := range records {
		next = max(next, rec.EntityID)
	}
	taken := make(map[int64]bool, len(records))
	for _, rec := range records {
		if rec.EntityID != 0 && !taken[rec.EntityID] {
			taken[rec.EntityID] = true
			continue
		}
		next++
		numbered := rec.Clone()
		numbered.EntityID = next
		taken[next] = true
		_ = idx.Add(numbered)
	}
}

func observeIndex(idx *mapping.Index) {
	counts := map[string]map[string]int{}
	for _, rec := range idx.All() {
		byStatus, ok := counts[string(rec.Type)]
		if !ok {
			byStatus = map[string]int{}
			counts[string(rec.Type)] = byStatus
		}
		byStatus[string(rec.Status)]++
	}
	metrics.ObserveIndex(counts)
}

// Lookup returns the indexed record for a raw attribute combination.
func (s *Service) Lookup(ctx context.Context, recordType string, values map[string]string) (*mapping.Record, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return nil, err
	}
	probe, err := mapping.NewRecord(recordType, values)
	if err != nil {
		return nil, err
	}
	rec, ok := idx.Get(probe.Key)
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// RegisterUnmapped records a newly seen attribute combination as unmapped.
// When the combination is already known the existing record is returned
// and created is false; an orphaned record seen again is restored first.
func (s *Service) RegisterUnmapped(ctx context.Context, recordType string, values map[string]string) (*mapping.Record, bool, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return nil, false, err
	}
	rec, err := mapping.NewRecord(recordType, values)
	if err != nil {
		return nil, false, err
	}
	if existing, ok := idx.Get(rec.Key); ok && existing.Status != mapping.StatusOrphaned {
		return existing.Clone(), false, nil
	}
	if s.rebuilding.Load() {
		return nil, false, ErrRebuildInProgress
	}

	unlock, err := s.locker.Lock(ctx, rec.Key)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	s.writeMu.Lock()
	idx = s.index.Load()
	if existing, ok := idx.Get(rec.Key); ok {
		if existing.Status != mapping.StatusOrphaned {
			s.writeMu.Unlock()
			return existing.Clone(), false, nil
		}
		restored := existing.Clone()
		if err := restored.SetStatus(restoredStatus(restored), s.now()); err != nil {
			s.writeMu.Unlock()
			return nil, false, err
		}
		if err := s.repo.SaveAll(ctx, []*mapping.Record{restored}); err != nil {
			s.writeMu.Unlock()
			return nil, false, fmt.Errorf("failed to restore orphaned record: %w", err)
		}
		_ = idx.Add(restored)
		s.writeMu.Unlock()

		observeIndex(idx)
		logger.Log.WithFields(map[string]interface{}{
			"entity_id":   restored.EntityID,
			"mapping_key": restored.Key,
			"status":      restored.Status,
		}).Info("Restored orphaned mapping")
		return restored.Clone(), false, nil
	}

	now := s.now()
	s.lastID++
	rec.EntityID = s.lastID
	rec.MappedTermLabel = mapping.UnmappedTerm
	rec.Status = mapping.StatusUnmapped
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := s.repo.Create(ctx, rec); err != nil {
		s.lastID--
		s.writeMu.Unlock()
		return nil, false, fmt.Errorf("failed to store unmapped record: %w", err)
	}
	_ = idx.Add(rec)
	s.writeMu.Unlock()

	metrics.RecordRegistration(string(rec.Type))
	logger.Log.WithFields(map[string]interface{}{
		"entity_id":   rec.EntityID,
		"entity_type": rec.Type,
		"mapping_key": rec.Key,
	}).Info("Registered unmapped attribute combination")
	s.publish(ctx, models.EventMappingUnmapped, recordEventData(rec))

	return rec.Clone(), true, nil
}

// restoredStatus is the status an orphaned record returns to once its
// attribute combination shows up upstream again.
func restoredStatus(rec *mapping.Record) mapping.Status {
	if rec.IsMapped() {
		return mapping.StatusMapped
	}
	return mapping.StatusUnmapped
}

// Query is a filtered, paginated view of the index. Page is 1-based.
type Query struct {
	Filter mapping.Filter
	Page   int
	Size   int
}

type Page struct {
	Mappings      []*mapping.Record `json:"mappings"`
	TotalElements int               `json:"totalElements"`
	TotalPages    int               `json:"totalPages"`
	Page          int               `json:"page"`
	Size          int               `json:"size"`
}

const defaultPageSize = 10

// Search returns one page of matching records in index order. Unmapped
// records on the page carry suggestions.
func (s *Service) Search(ctx context.Context, q Query) (Page, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return Page{}, err
	}

	size := q.Size
	if size <= 0 {
		size = defaultPageSize
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	matched := idx.Find(q.Filter)
	result := Page{
		Mappings:      []*mapping.Record{},
		TotalElements: len(matched),
		TotalPages:    (len(matched) + size - 1) / size,
		Page:          page,
		Size:          size,
	}

	start := (page - 1) * size
	if start >= len(matched) {
		return result, nil
	}
	end := min(start+size, len(matched))

	pools := map[mapping.RecordType][]*mapping.Record{}
	for _, rec := range matched[start:end] {
		out := rec.Clone()
		if out.IsUnmapped() {
			pool, ok := pools[out.Type]
			if !ok {
				pool = suggestionPool(idx, out.Type)
				pools[out.Type] = pool
			}
			out.Suggestions = s.suggest(out, pool)
		}
		result.Mappings = append(result.Mappings, out)
	}
	return result, nil
}

// Find returns every matching record in index order, without suggestions.
func (s *Service) Find(ctx context.Context, filter mapping.Filter) ([]*mapping.Record, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return nil, err
	}
	matched := idx.Find(filter)
	out := make([]*mapping.Record, len(matched))
	for i, rec := range matched {
		out[i] = rec.Clone()
	}
	return out, nil
}

// Get returns the record with the given entity id, with suggestions when it
// is unmapped.
func (s *Service) Get(ctx context.Context, entityID int64) (*mapping.Record, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return nil, err
	}
	rec, ok := idx.GetByEntityID(entityID)
	if !ok {
		return nil, ErrNotFound
	}
	out := rec.Clone()
	if out.IsUnmapped() {
		out.Suggestions = s.suggest(out, suggestionPool(idx, out.Type))
	}
	return out, nil
}

func suggestionPool(idx *mapping.Index, t mapping.RecordType) []*mapping.Record {
	return idx.Find(mapping.Filter{Types: []mapping.RecordType{t}, View: mapping.ViewMapped})
}

func (s *Service) suggest(target *mapping.Record, pool []*mapping.Record) []*mapping.Record {
	start := time.Now()
	ranked := s.resolver.Suggest(target, pool)
	metrics.ObserveSuggestions(len(ranked), time.Since(start))

	out := make([]*mapping.Record, len(ranked))
	for i, rec := range ranked {
		out[i] = rec.Clone()
	}
	return out
}

// SourceSummary counts records of one data source by status.
type SourceSummary struct {
	DataSource string `json:"DataSource"`
	Unmapped   int    `json:"Unmapped"`
	Mapped     int    `json:"Mapped"`
	Validated  int    `json:"Validated"`
	Created    int    `json:"Created"`
	Orphaned   int    `json:"Orphaned"`
}

// Summary groups records of recordType by data source. An empty type
// covers every type.
func (s *Service) Summary(ctx context.Context, recordType string) ([]SourceSummary, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return nil, err
	}

	var filter mapping.Filter
	if strings.TrimSpace(recordType) != "" {
		t, err := mapping.ParseRecordType(recordType)
		if err != nil {
			return nil, err
		}
		filter.Types = []mapping.RecordType{t}
	}

	bySource := map[string]*SourceSummary{}
	for _, rec := range idx.Find(filter) {
		ds := rec.Value(mapping.LabelDataSource)
		sum, ok := bySource[ds]
		if !ok {
			sum = &SourceSummary{DataSource: ds}
			bySource[ds] = sum
		}
		switch rec.Status {
		case mapping.StatusUnmapped:
			sum.Unmapped++
		case mapping.StatusMapped:
			sum.Mapped++
		case mapping.StatusValidated:
			sum.Validated++
		case mapping.StatusCreated:
			sum.Created++
		case mapping.StatusOrphaned:
			sum.Orphaned++
		}
	}

	out := make([]SourceSummary, 0, len(bySource))
	for _, sum := range bySource {
		out = append(out, *sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataSource < out[j].DataSource })
	return out, nil
}

// Edit is one curator change submitted through bulk update. Empty fields
// leave the stored value alone.
type Edit struct {
	EntityID        int64  `json:"entityId"`
	MappedTermLabel string `json:"mappedTermLabel"`
	MappedTermURL   string `json:"mappedTermUrl"`
	MapType         string `json:"mapType"`
	Justification   string `json:"justification"`
}

// UpdateRecords validates every edited record. The batch fails with a
// MissingError if any entity id is unknown.
func (s *Service) UpdateRecords(ctx context.Context, edits []Edit) ([]*mapping.Record, error) {
	if len(edits) == 0 {
		return nil, ValidationError{Problems: []string{"no mappings submitted"}}
	}
	ids := make([]int64, len(edits))
	for i, e := range edits {
		ids[i] = e.EntityID
	}

	return s.applyBatch(ctx, ids, "bulk_edit", func(i int, rec *mapping.Record) {
		e := edits[i]
		if e.MappedTermLabel != "" && e.MappedTermLabel != rec.MappedTermLabel {
			rec.MappedTermLabel = e.MappedTermLabel
			rec.MappedTermURL = e.MappedTermURL
		} else if e.MappedTermURL != "" {
			rec.MappedTermURL = e.MappedTermURL
		}
		if e.MapType != "" {
			rec.MapMethod = strings.ToLower(strings.TrimSpace(e.MapType))
		}
		if e.Justification != "" {
			rec.Justification = e.Justification
		}
	})
}

// ApplyCorrections applies curator decisions from an uploaded sheet. A "no"
// decision replaces the mapped term with the approved one.
func (s *Service) ApplyCorrections(ctx context.Context, rows []Correction) ([]*mapping.Record, error) {
	if err := s.ValidateCorrections(rows); err != nil {
		return nil, err
	}
	ids := make([]int64, len(rows))
	for i, row := range rows {
		ids[i] = row.EntityID
	}

	return s.applyBatch(ctx, ids, "upload", func(i int, rec *mapping.Record) {
		row := rows[i]
		if row.Rejected() {
			rec.MappedTermLabel = row.ApprovedTerm
			rec.MappedTermURL = row.ApprovedTermURL
		}
	})
}

// ValidateCorrections reports every malformed row and unknown entity id.
func (s *Service) ValidateCorrections(rows []Correction) error {
	idx, err := s.activeIndex()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return ValidationError{Problems: []string{"upload contains no rows"}}
	}

	var problems []string
	for _, row := range rows {
		problems = append(problems, row.Problems...)
		if len(row.Problems) > 0 {
			continue
		}
		if _, ok := idx.GetByEntityID(row.EntityID); !ok {
			problems = append(problems, fmt.Sprintf("row %d: entity %d not found", row.Line, row.EntityID))
		}
	}
	if len(problems) > 0 {
		return ValidationError{Problems: problems}
	}
	return nil
}

// applyBatch locks the keys of ids, applies change to a clone of each
// record, validates it and commits the batch in one transaction.
func (s *Service) applyBatch(ctx context.Context, ids []int64, source string, change func(i int, rec *mapping.Record)) ([]*mapping.Record, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return nil, err
	}
	if s.rebuilding.Load() {
		return nil, ErrRebuildInProgress
	}

	keys := make([]string, 0, len(ids))
	var missing []int64
	for _, id := range ids {
		rec, ok := idx.GetByEntityID(id)
		if !ok {
			missing = append(missing, id)
			continue
		}
		keys = append(keys, rec.Key)
	}
	if len(missing) > 0 {
		return nil, MissingError{IDs: missing}
	}

	unlock, err := lockAll(ctx, s.locker, keys)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s.writeMu.Lock()
	idx = s.index.Load()
	now := s.now()
	updated := make([]*mapping.Record, 0, len(ids))
	byID := map[int64]*mapping.Record{}
	for i, id := range ids {
		rec, ok := byID[id]
		if !ok {
			current, found := idx.GetByEntityID(id)
			if !found {
				s.writeMu.Unlock()
				return nil, MissingError{IDs: []int64{id}}
			}
			rec = current.Clone()
			byID[id] = rec
			updated = append(updated, rec)
		}
		change(i, rec)
		if err := rec.SetStatus(mapping.StatusValidated, now); err != nil {
			s.writeMu.Unlock()
			return nil, err
		}
	}

	if err := s.repo.SaveAll(ctx, updated); err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("failed to save curated records: %w", err)
	}
	for _, rec := range updated {
		_ = idx.Add(rec)
	}
	s.writeMu.Unlock()

	metrics.RecordCorrections(source, len(updated))
	observeIndex(idx)

	types := map[mapping.RecordType]bool{}
	out := make([]*mapping.Record, len(updated))
	for i, rec := range updated {
		types[rec.Type] = true
		out[i] = rec.Clone()
		s.publish(ctx, models.EventMappingValidated, recordEventData(rec))
	}
	for _, t := range mapping.Types() {
		if !types[t] {
			continue
		}
		if _, err := s.WriteRules(ctx, t, false); err != nil {
			logger.Log.WithError(err).WithField("entity_type", t).Warn("Failed to rewrite rule file after curation")
		}
	}

	logger.Log.WithFields(map[string]interface{}{
		"source":  source,
		"records": len(out),
	}).Info("Curated mappings saved")
	return out, nil
}

// RebuildFromRules builds a new index from the rule files, persists it in
// one transaction and swaps it in. On any failure the current index and
// store are left as they were.
func (s *Service) RebuildFromRules(ctx context.Context) (int, error) {
	if !s.rebuilding.CompareAndSwap(false, true) {
		return 0, ErrRebuildInProgress
	}
	defer s.rebuilding.Store(false)

	unlock, err := s.locker.Lock(ctx, rebuildLockKey)
	if err != nil {
		if errors.Is(err, ErrLocked) {
			return 0, ErrRebuildInProgress
		}
		return 0, err
	}
	defer unlock()

	n, err := s.rebuild(ctx)
	metrics.RecordRebuild(err)
	if err != nil {
		logger.Log.WithError(err).Error("Rebuild from rule files failed")
		return 0, err
	}

	logger.Log.WithField("records", n).Info("Mapping store rebuilt from rule files")
	s.publish(ctx, models.EventMappingsRebuilt, map[string]interface{}{"records": n})
	return n, nil
}

func (s *Service) rebuild(ctx context.Context) (int, error) {
	idx, err := s.rules.Load(ctx)
	if err != nil {
		return 0, err
	}
	s.assignIDs(idx)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.repo.ReplaceAll(ctx, idx.All()); err != nil {
		return 0, fmt.Errorf("failed to persist rebuilt records: %w", err)
	}
	s.install(idx)
	s.ready.Store(true)
	return idx.Len(), nil
}

// WriteRules regenerates the rule file of recordType from the index. Unmapped
// records are left out unless includeUnmapped is set.
func (s *Service) WriteRules(ctx context.Context, recordType mapping.RecordType, includeUnmapped bool) (string, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return "", err
	}

	filter := mapping.Filter{Types: []mapping.RecordType{recordType}}
	var records []*mapping.Record
	for _, rec := range idx.Find(filter) {
		if !includeUnmapped && (rec.Status == mapping.StatusUnmapped || rec.IsUnmapped()) {
			continue
		}
		records = append(records, rec)
	}

	backup, err := s.rules.Write(recordType, records)
	if err != nil {
		return "", err
	}
	s.publish(ctx, models.EventRulesWritten, map[string]interface{}{
		"entityType": string(recordType),
		"records":    len(records),
	})
	return backup, nil
}

// WriteAllRules regenerates every rule file.
func (s *Service) WriteAllRules(ctx context.Context, includeUnmapped bool) error {
	for _, t := range mapping.Types() {
		if _, err := s.WriteRules(ctx, t, includeUnmapped); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) ExportRulesArchive(w io.Writer) error {
	return s.rules.WriteArchive(w)
}

// ExportDataSources writes the configured data sources' mapped records as a
// zip of rule files.
func (s *Service) ExportDataSources(ctx context.Context, w io.Writer) error {
	idx, err := s.activeIndex()
	if err != nil {
		return err
	}
	mapped := idx.Find(mapping.Filter{View: mapping.ViewMapped})
	return rulefile.WriteExport(w, s.opts.ExportPrefix, s.opts.ExportSources, mapped)
}

// Missing returns every record known to be unmapped.
func (s *Service) Missing(ctx context.Context) ([]*mapping.Record, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return nil, err
	}
	matched := idx.Find(mapping.Filter{MappedTerm: mapping.UnmappedTerm})
	out := make([]*mapping.Record, len(matched))
	for i, rec := range matched {
		out[i] = rec.Clone()
	}
	return out, nil
}

// PurgeUnmapped deletes every record still carrying the unmapped sentinel
// so a discovery scan can register a fresh set.
func (s *Service) PurgeUnmapped(ctx context.Context) (int, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return 0, err
	}
	if s.rebuilding.Load() {
		return 0, ErrRebuildInProgress
	}

	s.writeMu.Lock()
	idx = s.index.Load()
	unmapped := idx.Find(mapping.Filter{MappedTerm: mapping.UnmappedTerm})
	ids := make([]int64, len(unmapped))
	for i, rec := range unmapped {
		ids[i] = rec.EntityID
	}
	if _, err := s.repo.Delete(ctx, ids); err != nil {
		s.writeMu.Unlock()
		return 0, fmt.Errorf("failed to purge unmapped records: %w", err)
	}
	idx.Remove(unmapped...)
	s.writeMu.Unlock()

	observeIndex(idx)
	if len(unmapped) > 0 {
		logger.Log.WithField("records", len(unmapped)).Info("Purged unmapped records")
		s.publish(ctx, models.EventUnmappedPurged, map[string]interface{}{"records": len(unmapped)})
	}
	return len(unmapped), nil
}

// MarkOrphans flags records of the given data sources whose key is not in
// seen, and restores orphaned records whose key is seen again. It returns
// the number of newly orphaned records.
func (s *Service) MarkOrphans(ctx context.Context, dataSources []string, seen map[string]bool) (int, error) {
	idx, err := s.activeIndex()
	if err != nil {
		return 0, err
	}
	if s.rebuilding.Load() {
		return 0, ErrRebuildInProgress
	}
	scanned := map[string]bool{}
	for _, ds := range dataSources {
		scanned[mapping.NormalizeValue(ds)] = true
	}

	s.writeMu.Lock()
	idx = s.index.Load()
	now := s.now()
	var changed []*mapping.Record
	orphaned, restored := 0, 0
	for _, rec := range idx.All() {
		if !scanned[rec.Value(mapping.LabelDataSource)] {
			continue
		}
		// seen live records and unseen orphans are already reconciled
		wasOrphaned := rec.Status == mapping.StatusOrphaned
		if seen[rec.Key] != wasOrphaned {
			continue
		}
		c := rec.Clone()
		to := mapping.StatusOrphaned
		if wasOrphaned {
			to = restoredStatus(c)
		}
		if err := c.SetStatus(to, now); err != nil {
			s.writeMu.Unlock()
			return 0, err
		}
		if wasOrphaned {
			restored++
		} else {
			orphaned++
		}
		changed = append(changed, c)
	}
	if len(changed) > 0 {
		if err := s.repo.SaveAll(ctx, changed); err != nil {
			s.writeMu.Unlock()
			return 0, fmt.Errorf("failed to reconcile orphans: %w", err)
		}
		for _, rec := range changed {
			_ = idx.Add(rec)
		}
	}
	s.writeMu.Unlock()

	if len(changed) > 0 {
		observeIndex(idx)
		logger.Log.WithFields(map[string]interface{}{
			"orphaned": orphaned,
			"restored": restored,
		}).Info("Reconciled orphaned mappings")
	}
	if orphaned > 0 {
		s.publish(ctx, models.EventOrphansMarked, map[string]interface{}{"records": orphaned})
	}
	return orphaned, nil
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishEvent(ctx, eventType, eventSource, data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish mapping event")
	}
}

func recordEventData(rec *mapping.Record) map[string]interface{} {
	values := make(map[string]interface{}, len(rec.Values))
	for k, v := range rec.Values {
		values[k] = v
	}
	return map[string]interface{}{
		"entityId":        rec.EntityID,
		"entityType":      string(rec.Type),
		"mappingKey":      rec.Key,
		"mappingValues":   values,
		"mappedTermLabel": rec.MappedTermLabel,
		"status":          string(rec.Status),
	}
}
