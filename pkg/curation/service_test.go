package curation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/curator/pkg/common/logger"
	"github.com/synaptica-ai/curator/pkg/common/models"
	"github.com/synaptica-ai/curator/pkg/mapping"
	"github.com/synaptica-ai/curator/pkg/rulefile"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testDiagnosisRules = `{
  "mappings": [
    {
      "entityId": 1,
      "mappingValues": {"DataSource": "JAX", "SampleDiagnosis": "Acute Myeloid Leukemia", "OriginTissue": "Blood", "TumorType": "Primary"},
      "mappedTermLabel": "Acute Myeloid Leukemia",
      "mappedTermUrl": "http://purl.obolibrary.org/obo/NCIT_C3171",
      "mapType": "direct",
      "justification": "",
      "status": "validated"
    },
    {
      "entityId": 2,
      "mappingValues": {"DataSource": "JAX", "SampleDiagnosis": "Invasive Ductal Carcinoma", "OriginTissue": "Breast", "TumorType": "Primary"},
      "mappedTermLabel": "Invasive Breast Carcinoma",
      "mappedTermUrl": "http://purl.obolibrary.org/obo/NCIT_C9245",
      "mapType": "direct",
      "justification": "",
      "status": "mapped"
    },
    {
      "entityId": 3,
      "mappingValues": {"DataSource": "TRACE", "SampleDiagnosis": "Colon Adenocarcinoma", "OriginTissue": "Colon", "TumorType": "Primary"},
      "mappedTermLabel": "Colon Adenocarcinoma",
      "mappedTermUrl": "http://purl.obolibrary.org/obo/NCIT_C4349",
      "mapType": "inferred",
      "justification": "",
      "status": ""
    }
  ]
}`

const testTreatmentRules = `{
  "mappings": [
    {
      "entityId": 10,
      "mappingValues": {"DataSource": "Curie-BC", "TreatmentName": "Cisplatin"},
      "mappedTermLabel": "Cisplatin",
      "mappedTermUrl": "http://purl.obolibrary.org/obo/NCIT_C376",
      "mapType": "direct",
      "justification": "",
      "status": "mapped"
    }
  ]
}`

var leukaemia = map[string]string{
	"DataSource":      "JAX",
	"SampleDiagnosis": "Acute Myeloid Leukaemia",
	"OriginTissue":    "Blood",
	"TumorType":       "Primary",
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return nil
}

func (p *recordingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	// every pooled connection would get its own in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, NewRepository(db).AutoMigrate())
	return db
}

type fixture struct {
	svc    *Service
	repo   *Repository
	rules  *rulefile.Store
	events *recordingPublisher
	dir    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger.Silence()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "diagnosis_mappings.json"), []byte(testDiagnosisRules), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "treatment_mappings.json"), []byte(testTreatmentRules), 0o644))

	repo := NewRepository(setupTestDB(t))
	rules := rulefile.NewStore(dir)
	events := &recordingPublisher{}
	svc := NewService(repo, rules, Options{
		ExportPrefix:  "EurOPDX",
		ExportSources: []string{"TRACE"},
	}).WithEvents(events)
	return &fixture{svc: svc, repo: repo, rules: rules, events: events, dir: dir}
}

func newReadyFixture(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	require.NoError(t, f.svc.Initialize(context.Background()))
	return f
}

func TestServiceNotReadyBeforeInitialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.False(t, f.svc.Ready())
	_, err := f.svc.Search(ctx, Query{})
	assert.ErrorIs(t, err, ErrNotReady)
	_, _, err = f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestInitializeSeedsEmptyStoreFromRules(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()

	assert.True(t, f.svc.Ready())
	stored, err := f.repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 4)
	assert.Equal(t, []int64{1, 2, 3, 10}, []int64{stored[0].EntityID, stored[1].EntityID, stored[2].EntityID, stored[3].EntityID})
	assert.Equal(t, mapping.StatusCreated, stored[2].Status)

	// a second instance loads the store without touching rule files
	require.NoError(t, os.Remove(f.rules.Path(mapping.TypeDiagnosis)))
	other := NewService(f.repo, f.rules, Options{})
	require.NoError(t, other.Initialize(ctx))
	page, err := other.Search(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.TotalElements)
}

func TestLookupNormalizesRawValues(t *testing.T) {
	f := newReadyFixture(t)

	rec, err := f.svc.Lookup(context.Background(), "Diagnosis", map[string]string{
		"DataSource":      " jax ",
		"SampleDiagnosis": "ACUTE MYELOID LEUKEMIA",
		"OriginTissue":    "blood",
		"TumorType":       "primary",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.EntityID)

	_, err = f.svc.Lookup(context.Background(), "diagnosis", leukaemia)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.Lookup(context.Background(), "sample", leukaemia)
	assert.ErrorIs(t, err, mapping.ErrUnknownType)
}

func TestRegisterUnmapped(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()

	rec, created, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, int64(11), rec.EntityID)
	assert.Equal(t, mapping.StatusUnmapped, rec.Status)
	assert.Equal(t, mapping.UnmappedTerm, rec.MappedTermLabel)

	again, created, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, rec.EntityID, again.EntityID)

	stored, err := f.repo.Get(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, rec.Key, stored.Key)
	assert.Equal(t, 1, f.events.count(models.EventMappingUnmapped))

	_, _, err = f.svc.RegisterUnmapped(ctx, "diagnosis", map[string]string{"DataSource": "JAX"})
	assert.ErrorIs(t, err, mapping.ErrIncompleteIdentity)
}

func TestRegisterUnmappedConcurrently(t *testing.T) {
	f := newReadyFixture(t)

	var wg sync.WaitGroup
	ids := make([]int64, 8)
	created := make([]bool, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, ok, err := f.svc.RegisterUnmapped(context.Background(), "treatment", map[string]string{
				"DataSource":    "Curie-BC",
				"TreatmentName": "Carboplatin",
			})
			if assert.NoError(t, err) {
				ids[i] = rec.EntityID
				created[i] = ok
			}
		}()
	}
	wg.Wait()

	n := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			n++
		}
	}
	assert.Equal(t, 1, n)
}

func TestGetAttachesSuggestionsToUnmapped(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()

	rec, _, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)

	got, err := f.svc.Get(ctx, rec.EntityID)
	require.NoError(t, err)
	require.Len(t, got.Suggestions, 3)
	assert.Equal(t, int64(1), got.Suggestions[0].EntityID)
	for _, s := range got.Suggestions {
		assert.Equal(t, mapping.TypeDiagnosis, s.Type)
		assert.NotEqual(t, rec.EntityID, s.EntityID)
	}

	mapped, err := f.svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, mapped.Suggestions)

	_, err = f.svc.Get(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSearch(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)

	t.Run("pages in index order", func(t *testing.T) {
		page, err := f.svc.Search(ctx, Query{
			Filter: mapping.Filter{Types: []mapping.RecordType{mapping.TypeDiagnosis}},
			Page:   2,
			Size:   2,
		})
		require.NoError(t, err)
		assert.Equal(t, 4, page.TotalElements)
		assert.Equal(t, 2, page.TotalPages)
		require.Len(t, page.Mappings, 2)
		assert.Equal(t, int64(3), page.Mappings[0].EntityID)
		assert.Equal(t, int64(11), page.Mappings[1].EntityID)
		assert.NotEmpty(t, page.Mappings[1].Suggestions)
	})

	t.Run("mapped only", func(t *testing.T) {
		page, err := f.svc.Search(ctx, Query{Filter: mapping.Filter{View: mapping.ViewMapped}})
		require.NoError(t, err)
		assert.Equal(t, 4, page.TotalElements)
	})

	t.Run("attribute and status filters", func(t *testing.T) {
		page, err := f.svc.Search(ctx, Query{Filter: mapping.Filter{
			Label:    "datasource",
			Value:    "JAX",
			Statuses: []mapping.Status{mapping.StatusMapped, mapping.StatusValidated},
		}})
		require.NoError(t, err)
		assert.Equal(t, 2, page.TotalElements)
	})

	t.Run("page past the end", func(t *testing.T) {
		page, err := f.svc.Search(ctx, Query{Page: 9})
		require.NoError(t, err)
		assert.Empty(t, page.Mappings)
		assert.Equal(t, 5, page.TotalElements)
	})
}

func TestSummary(t *testing.T) {
	f := newReadyFixture(t)

	summary, err := f.svc.Summary(context.Background(), "diagnosis")
	require.NoError(t, err)
	assert.Equal(t, []SourceSummary{
		{DataSource: "jax", Mapped: 1, Validated: 1},
		{DataSource: "trace", Created: 1},
	}, summary)
}

func TestUpdateRecords(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()

	updated, err := f.svc.UpdateRecords(ctx, []Edit{
		{EntityID: 2, MappedTermLabel: "Breast Carcinoma", MappedTermURL: "http://purl.obolibrary.org/obo/NCIT_C4872", MapType: "Inferred"},
		{EntityID: 3, Justification: "checked by curator"},
	})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, mapping.StatusValidated, updated[0].Status)
	assert.Equal(t, "Breast Carcinoma", updated[0].MappedTermLabel)
	assert.Equal(t, "inferred", updated[0].MapMethod)
	assert.Equal(t, "Colon Adenocarcinoma", updated[1].MappedTermLabel)

	stored, err := f.repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Breast Carcinoma", stored.MappedTermLabel)
	assert.Equal(t, mapping.StatusValidated, stored.Status)
	assert.Equal(t, 2, f.events.count(models.EventMappingValidated))

	file, err := os.Open(f.rules.Path(mapping.TypeDiagnosis))
	require.NoError(t, err)
	defer file.Close()
	written, err := rulefile.Decode(file, mapping.TypeDiagnosis)
	require.NoError(t, err)
	require.Len(t, written, 3)
	assert.Equal(t, "Breast Carcinoma", written[1].MappedTermLabel)

	_, err = f.svc.UpdateRecords(ctx, []Edit{{EntityID: 2}, {EntityID: 404}})
	var missing MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []int64{404}, missing.IDs)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.UpdateRecords(ctx, nil)
	assert.True(t, IsValidationError(err))
}

func TestApplyCorrections(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()
	unmapped, _, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)

	rows, err := ParseCorrectionsCSV(strings.NewReader(
		"entityId,decision,approvedTerm,approvedTermUrl\n" +
			"1,yes,,\n" +
			"11,no,Acute Myeloid Leukemia,http://purl.obolibrary.org/obo/NCIT_C3171\n"))
	require.NoError(t, err)

	updated, err := f.svc.ApplyCorrections(ctx, rows)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, "Acute Myeloid Leukemia", updated[0].MappedTermLabel)
	assert.Equal(t, unmapped.EntityID, updated[1].EntityID)
	assert.Equal(t, "Acute Myeloid Leukemia", updated[1].MappedTermLabel)
	assert.Equal(t, mapping.StatusValidated, updated[1].Status)

	missing, err := f.svc.Missing(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestApplyCorrectionsReportsEveryProblem(t *testing.T) {
	f := newReadyFixture(t)

	rows, err := ParseCorrectionsCSV(strings.NewReader(
		"EntityId,Decision,ApprovedTerm\n" +
			"1,maybe,\n" +
			"2,no,\n" +
			"404,yes,\n" +
			"x,yes,\n"))
	require.NoError(t, err)

	_, err = f.svc.ApplyCorrections(context.Background(), rows)
	var invalid ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Len(t, invalid.Problems, 4)
	assert.Contains(t, invalid.Problems[2], "entity 404 not found")

	rec, err := f.repo.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusMapped, rec.Status)
}

func TestRebuildFromRules(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)

	n, err := f.svc.RebuildFromRules(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.False(t, f.svc.Rebuilding())

	_, err = f.svc.Lookup(ctx, "diagnosis", leukaemia)
	assert.ErrorIs(t, err, ErrNotFound)
	stored, err := f.repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 4)
	assert.Equal(t, 1, f.events.count(models.EventMappingsRebuilt))
}

func TestRebuildFailureKeepsCurrentState(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.rules.Path(mapping.TypeDiagnosis), []byte(`{"mappings": [`), 0o644))
	_, err = f.svc.RebuildFromRules(ctx)
	assert.ErrorIs(t, err, rulefile.ErrMalformed)

	page, err := f.svc.Search(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalElements)
	stored, err := f.repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestWritesRejectedWhileRebuilding(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()

	f.svc.rebuilding.Store(true)
	defer f.svc.rebuilding.Store(false)

	_, err := f.svc.RebuildFromRules(ctx)
	assert.ErrorIs(t, err, ErrRebuildInProgress)
	_, err = f.svc.UpdateRecords(ctx, []Edit{{EntityID: 1}})
	assert.ErrorIs(t, err, ErrRebuildInProgress)
	_, _, err = f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	assert.ErrorIs(t, err, ErrRebuildInProgress)

	// reads keep serving the current index
	page, err := f.svc.Search(ctx, Query{})
	require.NoError(t, err)
	assert.Equal(t, 4, page.TotalElements)
}

func TestPurgeUnmapped(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)

	n, err := f.svc.PurgeUnmapped(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	missing, err := f.svc.Missing(ctx)
	require.NoError(t, err)
	assert.Empty(t, missing)
	_, err = f.repo.Get(ctx, 11)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMarkOrphans(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()

	kept, err := mapping.NewRecord("diagnosis", map[string]string{
		"DataSource":      "JAX",
		"SampleDiagnosis": "Acute Myeloid Leukemia",
		"OriginTissue":    "Blood",
		"TumorType":       "Primary",
	})
	require.NoError(t, err)

	n, err := f.svc.MarkOrphans(ctx, []string{"JAX"}, map[string]bool{kept.Key: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	orphan, err := f.svc.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusOrphaned, orphan.Status)
	other, err := f.svc.Get(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusCreated, other.Status)

	n, err = f.svc.MarkOrphans(ctx, []string{"JAX"}, map[string]bool{kept.Key: true})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrphanedRecordsAreRestoredWhenSeenAgain(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()

	unmapped, created, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)
	require.True(t, created)
	ductal, err := f.svc.Get(ctx, 2)
	require.NoError(t, err)
	aml, err := f.svc.Get(ctx, 1)
	require.NoError(t, err)

	n, err := f.svc.MarkOrphans(ctx, []string{"JAX"}, map[string]bool{aml.Key: true})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	again, created, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, unmapped.EntityID, again.EntityID)
	assert.Equal(t, mapping.StatusUnmapped, again.Status)
	stored, err := f.repo.Get(ctx, unmapped.EntityID)
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusUnmapped, stored.Status)

	n, err = f.svc.MarkOrphans(ctx, []string{"JAX"}, map[string]bool{
		aml.Key:      true,
		ductal.Key:   true,
		unmapped.Key: true,
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	restored, err := f.svc.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusMapped, restored.Status)
	stored, err = f.repo.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, mapping.StatusMapped, stored.Status)
	assert.Equal(t, 1, f.events.count(models.EventOrphansMarked))
}

func TestWriteRulesExcludesUnmapped(t *testing.T) {
	f := newReadyFixture(t)
	ctx := context.Background()
	_, _, err := f.svc.RegisterUnmapped(ctx, "diagnosis", leukaemia)
	require.NoError(t, err)

	backup, err := f.svc.WriteRules(ctx, mapping.TypeDiagnosis, false)
	require.NoError(t, err)
	assert.FileExists(t, backup)
	data, err := os.ReadFile(f.rules.Path(mapping.TypeDiagnosis))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "leukaemia")

	_, err = f.svc.WriteRules(ctx, mapping.TypeDiagnosis, true)
	require.NoError(t, err)
	data, err = os.ReadFile(f.rules.Path(mapping.TypeDiagnosis))
	require.NoError(t, err)
	assert.Contains(t, string(data), "leukaemia")
}

func TestInitializeFailsWithoutRules(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.rules.Path(mapping.TypeTreatment)))

	err := f.svc.Initialize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, rulefile.ErrRulesNotFound))
	assert.False(t, f.svc.Ready())
}
