package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/prehensile/vidille/internal/app"
	"github.com/prehensile/vidille/internal/domain"
)

type stubApp struct {
	status     app.Status
	history    []domain.SessionSummary
	historyErr error
	limits     []int
}

func (s *stubApp) Status() app.Status {
	return s.status
}

func (s *stubApp) History(_ context.Context, limit int) ([]domain.SessionSummary, error) {
	s.limits = append(s.limits, limit)
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	if len(s.history) > limit {
		return s.history[:limit], nil
	}
	return s.history, nil
}

func newTestServer(t *testing.T, svc appService, opts Options) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts.Registerer = reg
	opts.Gatherer = reg
	return NewServer(svc, opts)
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.RemoteAddr = "1.2.3.4:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}
