package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_LabelsByRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/v1/contacts/:identifier", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/contacts/:identifier", "200"))
	for _, id := range []string{"1", "2", "CT-2026-ABCDEF"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/contacts/"+id, nil))
	}
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/contacts/:identifier", "200"))
	assert.Equal(t, 3.0, after-before)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")))
}

func TestBusinessCounters(t *testing.T) {
	before := testutil.ToFloat64(contactSubmissionsTotal.WithLabelValues("urgent"))
	RecordContactSubmission("urgent")
	assert.Equal(t, 1.0, testutil.ToFloat64(contactSubmissionsTotal.WithLabelValues("urgent"))-before)

	hits := testutil.ToFloat64(statsCacheTotal.WithLabelValues("hit"))
	RecordStatsCache(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(statsCacheTotal.WithLabelValues("hit"))-hits)
}
