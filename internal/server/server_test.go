package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"stockwatch/internal/db"
	"stockwatch/internal/domain"
	"stockwatch/internal/engine"
	"stockwatch/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(workspace)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, nil)
	if _, err := e.CreateWarehouse(context.Background(), domain.WarehouseGrammar{
		WarehouseID:      "main",
		Aisles:           4,
		RacksPerAisle:    5,
		PositionsPerRack: 10,
		LevelNames:       "ABCD",
		DefaultCapacity:  1,
		SpecialAreas: []domain.SpecialArea{
			{Code: "RECV-01", Type: domain.LocationReceiving, Capacity: 2},
		},
	}, "tester"); err != nil {
		t.Fatalf("seed warehouse: %v", err)
	}
	handler, err := New(Config{Engine: e, BasePath: "/v0", ActorID: "tester"})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestWarehouseEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/warehouses", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	var listed []domain.WarehouseGrammar
	if err := json.Unmarshal(data, &listed); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(listed) != 1 || listed[0].WarehouseID != "main" {
		t.Fatalf("listed = %+v", listed)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/warehouses", map[string]any{
		"id":                 "north",
		"aisles":             2,
		"racks_per_aisle":    2,
		"positions_per_rack": 5,
		"level_names":        "AB",
		"default_capacity":   1,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/warehouses/missing", nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "not_found" {
		t.Fatalf("error code = %s: %s", envelope.Error.Code, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/warehouses/main/summary", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("summary status %d: %s", res.StatusCode, string(data))
	}
	var summary domain.WarehouseSummary
	_ = json.Unmarshal(data, &summary)
	if summary.StorageLocations != 4*5*10*4 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestLocationEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/warehouses/main/locations/validate", map[string]any{
		"code": "01-02-03A",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate status %d: %s", res.StatusCode, string(data))
	}
	var vr ValidateLocationResponse
	_ = json.Unmarshal(data, &vr)
	if !vr.Valid {
		t.Fatalf("validate = %+v", vr)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/warehouses/main/locations/validate", map[string]any{
		"code": "99-02-03A",
	})
	_ = json.Unmarshal(data, &vr)
	if res.StatusCode != http.StatusOK || vr.Valid || vr.Reason == "" {
		t.Fatalf("invalid code response = %d %+v", res.StatusCode, vr)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/warehouses/main/locations/RECV-01", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("properties status %d: %s", res.StatusCode, string(data))
	}
	var rec domain.LocationRecord
	_ = json.Unmarshal(data, &rec)
	if rec.Type != domain.LocationReceiving {
		t.Fatalf("record = %+v", rec)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/warehouses/main/locations", map[string]any{
		"locations": []map[string]any{
			{"code": "BULK-01", "type": "STORAGE", "capacity": 20},
		},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
	var imp ImportLocationsResponse
	_ = json.Unmarshal(data, &imp)
	if imp.Imported != 1 {
		t.Fatalf("imported = %+v", imp)
	}
}

func TestMutationEndpointsResolvePathIDs(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/warehouses/main", map[string]any{
		"aisles":             6,
		"racks_per_aisle":    5,
		"positions_per_rack": 10,
		"level_names":        "ABCD",
		"default_capacity":   1,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var g domain.WarehouseGrammar
	_ = json.Unmarshal(data, &g)
	if g.WarehouseID != "main" || g.Aisles != 6 {
		t.Fatalf("updated = %+v", g)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/warehouses/main/format/detect", map[string]any{
		"examples": []string{"01-02-03A", "01-02-04B", "02-05-10C"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detect format status %d: %s", res.StatusCode, string(data))
	}
	var pattern domain.FormatPattern
	_ = json.Unmarshal(data, &pattern)
	if pattern.PatternType != domain.PatternAisleRackPosLvl {
		t.Fatalf("pattern = %+v", pattern)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/warehouses/main/active", map[string]any{
		"active": false,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set active status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"id":        "stagnant",
		"rule_type": "STAGNANT_PALLETS",
		"priority":  6,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/rules/stagnant", map[string]any{
		"priority": 9,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("patch rule status %d: %s", res.StatusCode, string(data))
	}
	var rule domain.Rule
	_ = json.Unmarshal(data, &rule)
	if rule.ID != "stagnant" || rule.Priority != 9 {
		t.Fatalf("patched rule = %+v", rule)
	}
}

func TestRunEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/rules", map[string]any{
		"id":        "overcapacity",
		"rule_type": "OVERCAPACITY",
		"priority":  6,
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rule status %d: %s", res.StatusCode, string(data))
	}

	now := time.Now().UTC()
	rows := []map[string]any{
		{"pallet_id": "P1", "location": "01-01-01A", "created_at": now.Format(time.RFC3339)},
		{"pallet_id": "P2", "location": "01-01-01A", "created_at": now.Format(time.RFC3339)},
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs", map[string]any{
		"snapshot": map[string]any{"rows": rows},
	})
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create run status %d: %s", res.StatusCode, string(data))
	}
	var run domain.Run
	if err := json.Unmarshal(data, &run); err != nil {
		t.Fatalf("unmarshal run: %v", err)
	}
	if run.WarehouseID != "main" || run.Status != "completed" {
		t.Fatalf("run = %+v", run)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/"+run.ID, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get run status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/runs/"+run.ID+"/anomalies", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("anomalies status %d: %s", res.StatusCode, string(data))
	}
	var anomalies []domain.Anomaly
	_ = json.Unmarshal(data, &anomalies)
	if len(anomalies) != 2 {
		t.Fatalf("anomalies = %+v", anomalies)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/runs", map[string]any{
		"snapshot": map[string]any{"rows": []map[string]any{}},
	})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty snapshot, got %d: %s", res.StatusCode, string(data))
	}
}

func TestContextEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/context/detect", map[string]any{
		"locations": []string{"01-02-03A", "RECV-01"},
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("detect status %d: %s", res.StatusCode, string(data))
	}
	var match domain.ContextMatch
	_ = json.Unmarshal(data, &match)
	if match.WarehouseID != "main" || match.ConfidenceLevel != domain.ConfidenceHigh {
		t.Fatalf("match = %+v", match)
	}
}
