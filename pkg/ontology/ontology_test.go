package ontology

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synaptica-ai/curator/pkg/common/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const ncit = "http://purl.obolibrary.org/obo/"

type fakeNode struct {
	pages [][]olsTerm
}

// fakeOLS serves hierarchicalChildren pages for the terms in tree, keyed by
// NCIt code.
func fakeOLS(t *testing.T, tree map[string]fakeNode) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		for code, node := range tree {
			if !strings.Contains(r.URL.Path, "%2F"+code+"/hierarchicalChildren") {
				continue
			}
			page := 0
			if p := r.URL.Query().Get("page"); p == "1" {
				page = 1
			}
			body := map[string]interface{}{
				"_embedded": map[string]interface{}{"terms": node.pages[page]},
				"page":      map[string]interface{}{"number": page, "totalPages": len(node.pages)},
			}
			_ = json.NewEncoder(w).Encode(body)
			return
		}
		_, _ = w.Write([]byte(`{"page": {"number": 0, "totalPages": 0}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func cancerTree() map[string]fakeNode {
	return map[string]fakeNode{
		"NCIT_C9305": {pages: [][]olsTerm{
			{
				{IRI: ncit + "NCIT_C4872", Label: "Malignant Breast Neoplasm"},
				{IRI: ncit + "NCIT_C2852", Label: "Carcinoma, NOS"},
			},
			{
				{IRI: ncit + "NCIT_C3161", Label: "Leukemia", Description: []string{"A blood cancer."}},
			},
		}},
		"NCIT_C4872": {pages: [][]olsTerm{{
			{IRI: ncit + "NCIT_C4194", Label: "Malignant Ductal Breast Neoplasm", Synonyms: []string{"IDC"}},
		}}},
		"NCIT_C2852": {pages: [][]olsTerm{{
			{IRI: ncit + "NCIT_C4872", Label: "Malignant Breast Neoplasm"},
		}}},
	}
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, NewRepository(db).AutoMigrate())
	return db
}

func TestCrawlWalksChildrenBreadthFirst(t *testing.T) {
	logger.Silence()
	srv, _ := fakeOLS(t, cancerTree())

	terms, err := NewCrawler(srv.URL, time.Second, 2).Crawl(context.Background(), "diagnosis", DefaultCatalog().RootsFor("diagnosis"))
	require.NoError(t, err)

	labels := make([]string, len(terms))
	for i, term := range terms {
		labels[i] = term.Label
		assert.Equal(t, "diagnosis", term.Type)
	}
	assert.Equal(t, []string{"Cancer", "Breast Cancer", "Carcinoma NOS", "Leukemia", "Ductal Breast Cancer"}, labels)
	assert.Equal(t, ncit+"NCIT_C4194", terms[4].URL)
	assert.Equal(t, []string{"IDC"}, []string(terms[4].Synonyms))
	assert.Equal(t, "A blood cancer.", terms[3].Description)
}

func TestCrawlFailsOnServerErrors(t *testing.T) {
	logger.Silence()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewCrawler(srv.URL, time.Second, 0)
	c.client.SetRetryWaitTime(time.Millisecond).SetRetryMaxWaitTime(2 * time.Millisecond)

	_, err := c.Crawl(context.Background(), "diagnosis", DefaultCatalog().RootsFor("diagnosis"))
	require.Error(t, err)
	assert.Equal(t, int32(fetchAttempts), hits.Load())
}

func TestLoadCatalog(t *testing.T) {
	cat, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, cat.RootsFor("diagnosis"), 1)

	path := filepath.Join(t.TempDir(), "roots.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
roots:
  Treatment:
    - url: http://purl.obolibrary.org/obo/NCIT_C1909
      label: Pharmacologic Substance
`), 0o644))
	cat, err = LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, cat.RootsFor("treatment"), 1)
	assert.Equal(t, "Pharmacologic Substance", cat.RootsFor("treatment")[0].Label)
	assert.Empty(t, cat.RootsFor("diagnosis"))

	require.NoError(t, os.WriteFile(path, []byte("roots: {}\n"), 0o644))
	_, err = LoadCatalog(path)
	assert.Error(t, err)
}

func TestServiceReload(t *testing.T) {
	logger.Silence()
	srv, hits := fakeOLS(t, cancerTree())
	repo := NewRepository(setupTestDB(t))
	svc := NewService(repo, NewCrawler(srv.URL, time.Second, 2), DefaultCatalog())
	ctx := context.Background()

	n, err := svc.Reload(ctx, "Diagnosis")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	terms, err := svc.ListByType(ctx, "diagnosis")
	require.NoError(t, err)
	require.Len(t, terms, 5)
	assert.Equal(t, "Breast Cancer", terms[0].Label)

	// a second reload replaces rather than duplicates
	_, err = svc.Reload(ctx, "diagnosis")
	require.NoError(t, err)
	terms, err = svc.ListByType(ctx, "diagnosis")
	require.NoError(t, err)
	assert.Len(t, terms, 5)

	before := hits.Load()
	n, err = svc.Reload(ctx, "treatment")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, before, hits.Load())
	require.NoError(t, svc.ObserveStored(ctx))

	_, err = svc.Reload(ctx, "sample")
	assert.Error(t, err)
}

func TestServiceReloadFailureKeepsTerms(t *testing.T) {
	logger.Silence()
	srv, _ := fakeOLS(t, cancerTree())
	repo := NewRepository(setupTestDB(t))
	ctx := context.Background()

	_, err := NewService(repo, NewCrawler(srv.URL, time.Second, 2), DefaultCatalog()).Reload(ctx, "diagnosis")
	require.NoError(t, err)

	broken := NewCrawler("http://127.0.0.1:1", 50*time.Millisecond, 2)
	broken.client.SetRetryCount(0)
	_, err = NewService(repo, broken, DefaultCatalog()).Reload(ctx, "diagnosis")
	require.Error(t, err)

	n, err := repo.CountByType(ctx, "diagnosis")
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestHandler(t *testing.T) {
	logger.Silence()
	srv, _ := fakeOLS(t, cancerTree())
	svc := NewService(NewRepository(setupTestDB(t)), NewCrawler(srv.URL, time.Second, 2), DefaultCatalog())
	router := mux.NewRouter()
	NewHandler(svc).Register(router)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ontologies/reload?type=diagnosis", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"terms": 5}`, rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ontologies?type=diagnosis", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Terms []Term `json:"terms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Terms, 5)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ontologies?type=regimen", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
