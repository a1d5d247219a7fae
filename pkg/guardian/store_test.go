package guardian

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeCriticalProviders_AllHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewStore(nil, srv.Client(), nil)
	s.SetProbeEndpoints(map[string]string{"openai": srv.URL, "anthropic": srv.URL})

	assert.True(t, s.probeCriticalProviders(context.Background()))
}

func TestProbeCriticalProviders_OneUnhealthyFailsAll(t *testing.T) {
	okSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okSrv.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewStore(nil, srv.Client(), nil)
	s.SetProbeEndpoints(map[string]string{"openai": okSrv.URL, "anthropic": srv.URL})

	assert.False(t, s.probeCriticalProviders(context.Background()))
}

func TestProbeCriticalProviders_UnreachableFails(t *testing.T) {
	s := NewStore(nil, http.DefaultClient, nil)
	s.SetProbeEndpoints(map[string]string{"openai": "http://127.0.0.1:1", "anthropic": "http://127.0.0.1:1"})

	assert.False(t, s.probeCriticalProviders(context.Background()))
}
