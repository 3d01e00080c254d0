package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	ObserveIndex(map[string]map[string]int{
		"diagnosis": {"mapped": 3, "unmapped": 2},
	})
	assert.Equal(t, 3.0, testutil.ToFloat64(indexRecords.WithLabelValues("diagnosis", "mapped")))

	ObserveIndex(map[string]map[string]int{"treatment": {"mapped": 1}})
	assert.Equal(t, 1, testutil.CollectAndCount(indexRecords))

	before := testutil.ToFloat64(rebuilds.WithLabelValues("failure"))
	RecordRebuild(errors.New("boom"))
	assert.Equal(t, before+1, testutil.ToFloat64(rebuilds.WithLabelValues("failure")))

	RecordRegistration("diagnosis")
	RecordCorrections("csv", 4)
	ObserveSuggestions(10, 2*time.Millisecond)
	ObserveOntologyTerms("diagnosis", 42)
	assert.Equal(t, 42.0, testutil.ToFloat64(ontologyTerms.WithLabelValues("diagnosis")))
}

func TestHandlerExposesCuratorMetrics(t *testing.T) {
	RecordRegistration("treatment")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "curator_unmapped_registrations_total"))
}
