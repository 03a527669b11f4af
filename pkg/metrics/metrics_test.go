package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstancesDoNotCollide(t *testing.T) {
	a := New()
	b := New()

	a.RemoteMirrorFailures.WithLabelValues("create_conversation").Inc()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.RemoteMirrorFailures.WithLabelValues("create_conversation")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RemoteMirrorFailures.WithLabelValues("create_conversation")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ProxyRequestsTotal.WithLabelValues("401").Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `chatsync_proxy_requests_total{status="401"} 1`)
}
