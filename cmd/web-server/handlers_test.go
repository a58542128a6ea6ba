package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/skpeterson2000/towerwitch/internal/auth"
	"github.com/skpeterson2000/towerwitch/internal/logging"
	"github.com/skpeterson2000/towerwitch/internal/observability"
	"github.com/skpeterson2000/towerwitch/pkg/config"
	"github.com/skpeterson2000/towerwitch/pkg/registry"
	"github.com/skpeterson2000/towerwitch/pkg/tracker"
)

// testSites returns a small registry around the Twin Cities.
func testSites() []registry.Site {
	return []registry.Site{
		{
			ID: "1-1-1", RFSS: "1", SiteDec: "1", SiteHex: "1", NAC: "293",
			Description: "Downtown", County: "Hennepin",
			Latitude: 44.9778, Longitude: -93.2650,
			Frequencies: []registry.Frequency{
				{MHz: 851.0125, Control: true},
				{MHz: 852.2125},
			},
		},
		{
			ID: "1-2-2", RFSS: "1", SiteDec: "2", SiteHex: "2", NAC: "294",
			Description: "Eastside", County: "Ramsey",
			Latitude: 45.0, Longitude: -93.0,
			Frequencies: []registry.Frequency{
				{MHz: 852.3},
			},
		},
		{
			ID: "1-3-3", RFSS: "1", SiteDec: "3", SiteHex: "3", NAC: "295",
			Description: "Far North", County: "Itasca",
			Latitude: 47.5, Longitude: -93.2,
			Frequencies: []registry.Frequency{
				{MHz: 853.1125, Control: true},
			},
		},
	}
}

// newTestServer builds a Server around a tracker that has not been started.
// The configured users are op/hunter2 (operator) and watcher/hunter2
// (viewer).
func newTestServer(t *testing.T) (*Server, *tracker.Controller) {
	t.Helper()

	authSvc := auth.NewService(auth.Config{
		JWTSecret:  "test-secret",
		BCryptCost: bcrypt.MinCost,
	})
	hash, err := authSvc.HashPassword("hunter2")
	if err != nil {
		t.Fatalf("Failed to hash test password: %v", err)
	}

	cfg := config.DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Auth.Users = []config.UserConfig{
		{Username: "op", PasswordHash: hash, Role: auth.RoleOperator},
		{Username: "watcher", PasswordHash: hash, Role: auth.RoleViewer},
	}

	collector, err := observability.NewCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to create collector: %v", err)
	}

	trk, err := tracker.New(tracker.Config{
		Sites:   testSites(),
		Metrics: collector,
	})
	if err != nil {
		t.Fatalf("Failed to create tracker: %v", err)
	}
	t.Cleanup(trk.Stop)

	return NewServer(cfg, logging.Noop(), trk, authSvc, collector, nil, nil), trk
}

// doJSON runs one request through the router and returns the recorder.
func doJSON(s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// writeTempCSV writes a registry file into a per-test directory.
func writeTempCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sites.csv")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to write test CSV: %v", err)
	}
	return path
}

// loginToken logs in through the API and returns the issued token.
func loginToken(t *testing.T, s *Server, username, password string) string {
	t.Helper()
	rec := doJSON(s, "POST", "/api/login", "", map[string]string{
		"username": username,
		"password": password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected login status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode login response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("Expected a token in the login response")
	}
	return resp.Token
}

// TestHandleLogin checks credential verification against the configured
// users.
func TestHandleLogin(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(s, "POST", "/api/login", "", map[string]string{
		"username": "op",
		"password": "hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
		User    struct {
			Username string `json:"username"`
			Role     string `json:"role"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Success || resp.Token == "" {
		t.Errorf("Expected a successful login with a token, got %+v", resp)
	}
	if resp.User.Role != auth.RoleOperator {
		t.Errorf("Expected role %q, got %q", auth.RoleOperator, resp.User.Role)
	}

	rec = doJSON(s, "POST", "/api/login", "", map[string]string{
		"username": "op",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a bad password, got %d", rec.Code)
	}

	rec = doJSON(s, "POST", "/api/login", "", map[string]string{
		"username": "nobody",
		"password": "hunter2",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for an unknown user, got %d", rec.Code)
	}
}

// TestLoginRateLimit verifies the limiter turns bursts into 429s.
func TestLoginRateLimit(t *testing.T) {
	s, _ := newTestServer(t)
	s.loginLimiter = rate.NewLimiter(rate.Every(time.Hour), 2)

	body := map[string]string{"username": "op", "password": "wrong"}
	for i := 0; i < 2; i++ {
		if rec := doJSON(s, "POST", "/api/login", "", body); rec.Code != http.StatusUnauthorized {
			t.Fatalf("Expected status 401 on attempt %d, got %d", i+1, rec.Code)
		}
	}
	if rec := doJSON(s, "POST", "/api/login", "", body); rec.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429 after the burst, got %d", rec.Code)
	}
}

// TestStatusBeforePosition checks the status surface before any fix.
func TestStatusBeforePosition(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(s, "GET", "/api/status", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var resp struct {
		State       string `json:"state"`
		SitesLoaded int    `json:"sitesLoaded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.State != "idle" {
		t.Errorf("Expected state %q, got %q", "idle", resp.State)
	}
	if resp.SitesLoaded != 3 {
		t.Errorf("Expected 3 sites loaded, got %d", resp.SitesLoaded)
	}

	if rec := doJSON(s, "GET", "/api/nearest", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for /api/nearest before any result, got %d", rec.Code)
	}
	if rec := doJSON(s, "GET", "/api/sites", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for /api/sites before any fix, got %d", rec.Code)
	}
}

// TestOperatorEndpointsRequireAuth walks the auth failure modes of the
// guarded routes.
func TestOperatorEndpointsRequireAuth(t *testing.T) {
	s, _ := newTestServer(t)

	body := map[string]float64{"latitude": 44.9, "longitude": -93.2}

	rec := doJSON(s, "POST", "/api/position", "", body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 without a token, got %d", rec.Code)
	}

	req := httptest.NewRequest("POST", "/api/refresh", nil)
	req.Header.Set("Authorization", "Token abc")
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a non-Bearer header, got %d", rec2.Code)
	}

	rec = doJSON(s, "POST", "/api/position", "not-a-token", body)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401 for a garbage token, got %d", rec.Code)
	}

	viewerToken := loginToken(t, s, "watcher", "hunter2")
	rec = doJSON(s, "POST", "/api/position", viewerToken, body)
	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected status 403 for a viewer token, got %d", rec.Code)
	}
}

// TestPositionOverride drives a manual position through the API and reads
// the published result back.
func TestPositionOverride(t *testing.T) {
	s, _ := newTestServer(t)
	token := loginToken(t, s, "op", "hunter2")

	rec := doJSON(s, "POST", "/api/position", token, map[string]float64{
		"latitude":  44.9,
		"longitude": -93.2,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var update updateJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &update); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if update.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", update.Seq)
	}
	if update.Fix.Latitude != 44.9 || update.Fix.Longitude != -93.2 {
		t.Errorf("Expected fix at (44.9, -93.2), got (%v, %v)", update.Fix.Latitude, update.Fix.Longitude)
	}
	if len(update.Nearest) != 2 {
		t.Fatalf("Expected 2 nearest control-channel sites, got %d", len(update.Nearest))
	}
	if update.Nearest[0].ID != "1-1-1" {
		t.Errorf("Expected nearest site 1-1-1, got %s", update.Nearest[0].ID)
	}
	if update.Nearest[0].Cardinal == "" {
		t.Error("Expected a cardinal direction on the ranked result")
	}

	rec = doJSON(s, "GET", "/api/nearest", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200 from /api/nearest, got %d", rec.Code)
	}
	var current updateJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &current); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if current.Seq != update.Seq {
		t.Errorf("Expected /api/nearest to return seq %d, got %d", update.Seq, current.Seq)
	}
}

// TestPositionValidation rejects malformed override bodies.
func TestPositionValidation(t *testing.T) {
	s, _ := newTestServer(t)
	token := loginToken(t, s, "op", "hunter2")

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing longitude", map[string]float64{"latitude": 44.9}},
		{"latitude out of range", map[string]float64{"latitude": 91.0, "longitude": 0}},
		{"longitude out of range", map[string]float64{"latitude": 0, "longitude": -181.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(s, "POST", "/api/position", token, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", rec.Code)
			}
		})
	}
}

// TestRefresh covers the no-position conflict and a successful re-resolve.
func TestRefresh(t *testing.T) {
	s, _ := newTestServer(t)
	token := loginToken(t, s, "op", "hunter2")

	rec := doJSON(s, "POST", "/api/refresh", token, nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("Expected status 409 before any position, got %d", rec.Code)
	}

	doJSON(s, "POST", "/api/position", token, map[string]float64{"latitude": 44.9, "longitude": -93.2})

	rec = doJSON(s, "POST", "/api/refresh", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var update updateJSON
	if err := json.Unmarshal(rec.Body.Bytes(), &update); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if update.Seq != 2 {
		t.Errorf("Expected seq 2 after refresh, got %d", update.Seq)
	}
}

// TestSitesQuery exercises the ad-hoc radius endpoint and its parameter
// validation.
func TestSitesQuery(t *testing.T) {
	s, _ := newTestServer(t)
	token := loginToken(t, s, "op", "hunter2")
	doJSON(s, "POST", "/api/position", token, map[string]float64{"latitude": 44.9, "longitude": -93.2})

	rec := doJSON(s, "GET", "/api/sites?unit=km&radius=500", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Unit   string       `json:"unit"`
		Radius float64      `json:"radius"`
		Count  int          `json:"count"`
		Sites  []resultJSON `json:"sites"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Unit != "km" || resp.Radius != 500 {
		t.Errorf("Expected unit km radius 500, got %s %v", resp.Unit, resp.Radius)
	}
	if resp.Count != 3 || len(resp.Sites) != 3 {
		t.Errorf("Expected all 3 sites within 500 km, got count %d with %d sites", resp.Count, len(resp.Sites))
	}

	if rec := doJSON(s, "GET", "/api/sites?unit=furlongs", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for an unknown unit, got %d", rec.Code)
	}
	if rec := doJSON(s, "GET", "/api/sites?radius=banana", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for a bad radius, got %d", rec.Code)
	}
}

// TestReload swaps the registry from a CSV file through the API.
func TestReload(t *testing.T) {
	s, _ := newTestServer(t)
	token := loginToken(t, s, "op", "hunter2")

	csv := "RFSS,Site Dec,Site Hex,NAC,Description,County,Lat,Lon,Range,F1\n" +
		"9,9,9,29A,Replacement,Test,44.5,-93.5,20,851.5c\n" +
		"9,10,A,29B,Second,Test,44.6,-93.6,20,852.5c\n"
	path := writeTempCSV(t, csv)
	s.cfg.Registry.CSVPath = path

	rec := doJSON(s, "POST", "/api/reload", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Success     bool `json:"success"`
		SitesLoaded int  `json:"sitesLoaded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !resp.Success || resp.SitesLoaded != 2 {
		t.Errorf("Expected a successful reload of 2 sites, got %+v", resp)
	}

	rec = doJSON(s, "GET", "/api/status", "", nil)
	var status struct {
		SitesLoaded int `json:"sitesLoaded"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.SitesLoaded != 2 {
		t.Errorf("Expected 2 sites after reload, got %d", status.SitesLoaded)
	}
}

// TestWebSocketStreamsUpdates dials /ws and reads the replayed result set.
func TestWebSocketStreamsUpdates(t *testing.T) {
	s, trk := newTestServer(t)

	if err := trk.OverridePosition(44.9, -93.2); err != nil {
		t.Fatalf("OverridePosition failed: %v", err)
	}

	ts := httptest.NewServer(s.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update updateJSON
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("Failed to read update: %v", err)
	}
	if update.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", update.Seq)
	}
	if update.Fix.Latitude != 44.9 {
		t.Errorf("Expected fix latitude 44.9, got %v", update.Fix.Latitude)
	}

	// A new resolve must arrive on the open connection.
	if err := trk.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("Failed to read second update: %v", err)
	}
	if update.Seq != 2 {
		t.Errorf("Expected seq 2, got %d", update.Seq)
	}
}

// TestMetricsEndpoint checks the Prometheus exposition is wired up.
func TestMetricsEndpoint(t *testing.T) {
	s, trk := newTestServer(t)

	if err := trk.OverridePosition(44.9, -93.2); err != nil {
		t.Fatalf("OverridePosition failed: %v", err)
	}

	rec := doJSON(s, "GET", "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "towerwitch_resolves_total") {
		t.Error("Expected towerwitch_resolves_total in the metrics exposition")
	}
}

// TestHealthEndpoint checks the probe answers without auth.
func TestHealthEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(s, "GET", "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("Expected status ok, got %q", resp.Status)
	}
}
