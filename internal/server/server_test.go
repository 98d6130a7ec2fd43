package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/peakshaver/glassbox/internal/explain"
	"github.com/peakshaver/glassbox/internal/features"
	"github.com/peakshaver/glassbox/internal/store"
)

type planePredictor struct{}

func (planePredictor) Predict(x []float64) (float64, error) {
	return 1 + 2*x[0] + x[1], nil
}

func (planePredictor) PredictBatch(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, x := range X {
		out[i], _ = planePredictor{}.Predict(x)
	}
	return out, nil
}

func testExplainer(t *testing.T) *explain.Explainer {
	t.Helper()
	n := 40
	frame := &features.Frame{
		Names:   []string{"lag_24", "hour"},
		Columns: [][]float64{make([]float64, n), make([]float64, n)},
		Target:  make([]float64, n),
	}
	for i := 0; i < n; i++ {
		frame.Columns[0][i] = float64(i%10) / 10
		frame.Columns[1][i] = float64(i % 24)
	}
	exp, err := explain.New(planePredictor{}, frame, explain.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("explain.New: %v", err)
	}
	t.Cleanup(func() { exp.Close() })
	return exp
}

func newTestServer(t *testing.T, cfg Config, exp *explain.Explainer) (*Server, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore("", 0)
	t.Cleanup(func() { st.Close() })
	return New(cfg, st, exp, zerolog.Nop(), nil), st
}

func doRequest(h http.Handler, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig(), nil)
	rec := doRequest(srv.Handler(), http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "OK" {
		t.Errorf("body = %q, want OK", rec.Body.String())
	}
}

func TestListRuns(t *testing.T) {
	srv, st := newTestServer(t, DefaultConfig(), nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		rec := store.NewRunRecord(fmt.Sprintf("office_%d", i), "fp")
		rec.StartedAt = rec.StartedAt.Add(time.Duration(i) * time.Hour)
		if err := st.Put(ctx, rec); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	rec := doRequest(srv.Handler(), http.MethodGet, "/v1/runs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Runs  []*store.RunRecord `json:"runs"`
		Count int                `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 3 || len(resp.Runs) != 3 {
		t.Errorf("count = %d, len = %d, want 3", resp.Count, len(resp.Runs))
	}
	// Newest first.
	if resp.Runs[0].Series != "office_2" {
		t.Errorf("first run = %s, want office_2", resp.Runs[0].Series)
	}

	rec = doRequest(srv.Handler(), http.MethodGet, "/v1/runs?limit=2", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode limited: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("limited count = %d, want 2", resp.Count)
	}

	if rec := doRequest(srv.Handler(), http.MethodGet, "/v1/runs?limit=x", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
	if rec := doRequest(srv.Handler(), http.MethodPost, "/v1/runs", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestGetRun(t *testing.T) {
	srv, st := newTestServer(t, DefaultConfig(), nil)
	rr := store.NewRunRecord("office_9", "fp9")
	if err := st.Put(context.Background(), rr); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rec := doRequest(srv.Handler(), http.MethodGet, "/v1/runs/"+rr.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got store.RunRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Series != "office_9" {
		t.Errorf("series = %s, want office_9", got.Series)
	}

	rec = doRequest(srv.Handler(), http.MethodGet, "/v1/runs/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing run status = %d, want 404", rec.Code)
	}
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil || e.Error == "" {
		t.Errorf("missing run should carry a JSON error, got %q", rec.Body.String())
	}
}

func TestExplain(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig(), testExplainer(t))

	x := []float64{0.8, 13}
	body, _ := json.Marshal(ExplainRequest{Features: x})
	rec := doRequest(srv.Handler(), http.MethodPost, "/v1/explain", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp ExplainResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := 1 + 2*x[0] + x[1]
	if math.Abs(resp.Prediction-want) > 1e-9 {
		t.Errorf("prediction = %f, want %f", resp.Prediction, want)
	}
	if resp.BreakDown == nil || len(resp.BreakDown.Contributions) != 2 {
		t.Fatalf("break-down missing or wrong size: %+v", resp.BreakDown)
	}
	sum := 0.0
	for _, c := range resp.BreakDown.Contributions {
		sum += c.Contribution
	}
	if math.Abs(sum-(resp.Prediction-resp.Baseline)) > 1e-9 {
		t.Errorf("contributions sum %f, want %f", sum, resp.Prediction-resp.Baseline)
	}
	if len(resp.FeatureNames) != 2 || resp.FeatureNames[0] != "lag_24" {
		t.Errorf("feature names = %v", resp.FeatureNames)
	}
}

func TestExplainValidation(t *testing.T) {
	srv, _ := newTestServer(t, DefaultConfig(), testExplainer(t))
	h := srv.Handler()

	if rec := doRequest(h, http.MethodGet, "/v1/explain", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", rec.Code)
	}
	if rec := doRequest(h, http.MethodPost, "/v1/explain", []byte("{not json")); rec.Code != http.StatusBadRequest {
		t.Errorf("bad JSON status = %d, want 400", rec.Code)
	}
	body, _ := json.Marshal(ExplainRequest{Features: []float64{1}})
	if rec := doRequest(h, http.MethodPost, "/v1/explain", body); rec.Code != http.StatusBadRequest {
		t.Errorf("short vector status = %d, want 400", rec.Code)
	}

	bare, _ := newTestServer(t, DefaultConfig(), nil)
	body, _ = json.Marshal(ExplainRequest{Features: []float64{1, 2}})
	if rec := doRequest(bare.Handler(), http.MethodPost, "/v1/explain", body); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no model status = %d, want 503", rec.Code)
	}
}

func TestExplainRateLimited(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RatePerSec = 1 // burst of 2
	srv, _ := newTestServer(t, cfg, testExplainer(t))
	h := srv.Handler()

	body, _ := json.Marshal(ExplainRequest{Features: []float64{0.5, 10}})
	limited := 0
	for i := 0; i < 10; i++ {
		rec := doRequest(h, http.MethodPost, "/v1/explain", body)
		if rec.Code == http.StatusTooManyRequests {
			limited++
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 without Retry-After header")
			}
		}
	}
	if limited == 0 {
		t.Error("no request was rate limited")
	}
}

func TestMetricsBasicAuth(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricsUser = "ops"
	cfg.MetricsPass = "secret"
	srv, _ := newTestServer(t, cfg, nil)
	h := srv.Handler()

	if rec := doRequest(h, http.MethodGet, "/metrics", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("ops", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("metrics body does not look like a Prometheus exposition")
	}
}

func TestRunGracefulShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	srv, _ := newTestServer(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := srv.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}
