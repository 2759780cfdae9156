package stats

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

// expvar panics on duplicate map names, so every test shares one updater.
var (
	testMux = http.NewServeMux()
	testSU  = NewStatsUpdater(testMux)
)

func TestNewStatsUpdater(t *testing.T) {
	assert.NotNil(t, testSU, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, testSU.updateChan, "expected updateChan to be initialized")
	handler, pattern := testMux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestRegisterFunc(t *testing.T) {
	calls := 0
	testSU.RegisterFunc("DerivedGauge", func() any {
		calls++
		return calls
	})

	v := testSU.vars.Get("DerivedGauge")
	assert.NotNil(t, v, "expected derived gauge to be registered")
	assert.Equal(t, "1", v.String(), "expected gauge to be computed on read")
	assert.Equal(t, "2", v.String(), "expected gauge to be recomputed on every read")
}
