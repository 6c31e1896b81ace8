package stats

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")

	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")

	su.RegisterMetric("NumConnections")
	assert.NotNil(t, su.vars.Get("NumConnections"), "expected registered metric to be exported")

	su.Run()
	defer su.Stop()

	su.Incr("NumConnections")
	su.Incr("NumConnections")
	su.Decr("NumConnections")

	assert.Eventually(t, func() bool {
		return su.vars.Get("NumConnections").String() == "1"
	}, time.Second, 5*time.Millisecond, "expected counter updates to be applied")
}
