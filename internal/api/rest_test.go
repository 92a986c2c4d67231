package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/devghori1264/agrox/internal/auth"
	"github.com/devghori1264/agrox/internal/server"
	"github.com/devghori1264/agrox/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
)

type client struct {
	t    *testing.T
	base string
}

func (c client) do(method, path, token string, body any) (int, map[string]any) {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func newTestAPI(t *testing.T, allowIssue bool) (client, *auth.Issuer) {
	t.Helper()
	store, err := storage.NewInMemoryStore()
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv := server.New(store)
	if _, err := srv.Initialize(context.Background(), "admin"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	iss := auth.NewIssuer("test-secret", time.Hour)
	ts := httptest.NewServer(NewHTTPHandler(srv, iss, Options{AllowIssue: allowIssue}))
	t.Cleanup(ts.Close)
	return client{t: t, base: ts.URL}, iss
}

func TestHTTPLedgerFlow(t *testing.T) {
	c, iss := newTestAPI(t, false)
	alice, _ := iss.Issue("alice")
	bob, _ := iss.Issue("bob")

	if code, _ := c.do("GET", "/ping", "", nil); code != http.StatusOK {
		t.Fatalf("ping status %d", code)
	}
	if code, _ := c.do("POST", "/machines", "", map[string]string{"machine_id": "sensor-1"}); code != http.StatusUnauthorized {
		t.Fatalf("register without token status %d", code)
	}

	code, body := c.do("POST", "/machines", alice, map[string]string{"machine_id": "sensor-1"})
	if code != http.StatusCreated || body["owner"] != "alice" {
		t.Fatalf("register: %d %v", code, body)
	}
	if code, _ := c.do("POST", "/machines", bob, map[string]string{"machine_id": "sensor-1"}); code != http.StatusConflict {
		t.Fatalf("duplicate register status %d", code)
	}
	if code, _ := c.do("POST", "/machines", bob, map[string]string{"machine_id": "this-machine-id-is-much-too-long-to-fit"}); code != http.StatusBadRequest {
		t.Fatalf("oversize register status %d", code)
	}

	upload := map[string]any{"temperature": 20.5, "humidity": 55.0}
	if code, _ := c.do("POST", "/machines/sensor-1/data", bob, upload); code != http.StatusPreconditionFailed {
		t.Fatalf("inactive upload status %d", code)
	}
	if code, _ := c.do("POST", "/machines/sensor-1/start", bob, nil); code != http.StatusForbidden {
		t.Fatalf("non-owner start status %d", code)
	}
	if code, _ := c.do("POST", "/machines/sensor-1/start", alice, nil); code != http.StatusOK {
		t.Fatalf("start status %d", code)
	}

	code, body = c.do("POST", "/machines/sensor-1/data", bob, upload)
	if code != http.StatusCreated {
		t.Fatalf("upload: %d %v", code, body)
	}
	readingID, _ := body["id"].(string)

	withImage := map[string]any{"temperature": 21.0, "humidity": 54.0, "image_url": "http://img"}
	if code, _ := c.do("POST", "/machines/sensor-1/data", bob, withImage); code != http.StatusCreated {
		t.Fatalf("image upload status %d", code)
	}

	if code, _ := c.do("POST", "/readings/"+readingID+"/use", bob, nil); code != http.StatusOK {
		t.Fatalf("use status %d", code)
	}

	code, body = c.do("GET", "/machines/sensor-1", "", nil)
	if code != http.StatusOK || body["rewards_earned"] != float64(14) || body["image_count"] != float64(1) {
		t.Fatalf("get machine: %d %v", code, body)
	}

	if code, _ := c.do("POST", "/machines/sensor-1/claim", bob, nil); code != http.StatusForbidden {
		t.Fatalf("non-owner claim status %d", code)
	}
	code, body = c.do("POST", "/machines/sensor-1/claim", alice, nil)
	if code != http.StatusOK || body["claimed"] != float64(14) {
		t.Fatalf("claim: %d %v", code, body)
	}
	if code, _ := c.do("POST", "/machines/sensor-1/claim", alice, nil); code != http.StatusPreconditionFailed {
		t.Fatalf("empty claim status %d", code)
	}

	code, body = c.do("GET", "/machines/sensor-1/readings", "", nil)
	if readings, _ := body["readings"].([]any); code != http.StatusOK || len(readings) != 2 {
		t.Fatalf("readings: %d %v", code, body)
	}

	code, body = c.do("GET", "/registry", "", nil)
	if code != http.StatusOK || body["machine_count"] != float64(1) || body["total_data_uploads"] != float64(2) || body["data_request_count"] != float64(1) {
		t.Fatalf("registry: %d %v", code, body)
	}

	if code, _ := c.do("GET", "/machines/unknown", "", nil); code != http.StatusNotFound {
		t.Fatalf("unknown machine status %d", code)
	}
	if code, _ := c.do("POST", "/initialize", alice, nil); code != http.StatusConflict {
		t.Fatalf("re-initialize status %d", code)
	}
}

func TestTokenIssuance(t *testing.T) {
	c, iss := newTestAPI(t, false)
	if code, _ := c.do("POST", "/token", "", map[string]string{"identity": "alice"}); code != http.StatusNotFound {
		t.Fatalf("disabled issuance status %d", code)
	}

	c, iss = newTestAPI(t, true)
	code, body := c.do("POST", "/token", "", map[string]string{"identity": "alice"})
	if code != http.StatusOK {
		t.Fatalf("issue status %d", code)
	}
	tok, _ := body["token"].(string)
	id, err := iss.Verify(tok)
	if err != nil || id != "alice" {
		t.Fatalf("Verify() = %q, %v", id, err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "agrox_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	mux := http.NewServeMux()
	RegisterMetrics(mux, reg)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("agrox_test_total 1")) {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}
