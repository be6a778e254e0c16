package stockwatchsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Stockwatch HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Warehouse represents the API warehouse model (partial).
type Warehouse struct {
	WarehouseID      string `json:"warehouse_id"`
	Name             string `json:"name"`
	Aisles           int    `json:"aisles"`
	RacksPerAisle    int    `json:"racks_per_aisle"`
	PositionsPerRack int    `json:"positions_per_rack"`
	LevelNames       string `json:"level_names"`
	DefaultCapacity  int    `json:"default_capacity"`
	Active           bool   `json:"active"`
}

// Location represents a resolved location record.
type Location struct {
	Code        string `json:"code"`
	WarehouseID string `json:"warehouse_id"`
	Type        string `json:"type"`
	Zone        string `json:"zone,omitempty"`
	Capacity    int    `json:"capacity"`
	Aisle       int    `json:"aisle,omitempty"`
	Rack        int    `json:"rack,omitempty"`
	Position    int    `json:"position,omitempty"`
	Level       string `json:"level,omitempty"`
}

// PalletRow is one snapshot row.
type PalletRow struct {
	PalletID          string `json:"pallet_id"`
	Location          string `json:"location"`
	CreatedAt         string `json:"created_at"`
	LotID             string `json:"lot_id,omitempty"`
	ReceiptNumber     string `json:"receipt_number,omitempty"`
	DeclaredType      string `json:"declared_type,omitempty"`
	LastMovedAt       string `json:"last_moved_at,omitempty"`
	QuantityAvailable int    `json:"quantity_available,omitempty"`
}

// Anomaly is one detected problem.
type Anomaly struct {
	ID          string         `json:"id"`
	PalletID    string         `json:"pallet_id"`
	RuleID      string         `json:"rule_id"`
	RuleType    string         `json:"rule_type"`
	Location    string         `json:"location"`
	Severity    string         `json:"severity"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}

// RuleResult is one rule's outcome inside a run.
type RuleResult struct {
	RuleID          string    `json:"rule_id"`
	RuleType        string    `json:"rule_type"`
	Status          string    `json:"status"`
	Anomalies       []Anomaly `json:"anomalies,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	SkippedRows     int       `json:"skipped_rows,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
}

// Run is one persisted analysis.
type Run struct {
	ID              string       `json:"id"`
	WarehouseID     string       `json:"warehouse_id"`
	Score           float64      `json:"score"`
	ConfidenceLevel string       `json:"confidence_level"`
	LowConfidence   bool         `json:"low_confidence"`
	RowCount        int          `json:"row_count"`
	Status          string       `json:"status"`
	StartedAt       string       `json:"started_at"`
	FinishedAt      string       `json:"finished_at,omitempty"`
	Results         []RuleResult `json:"results,omitempty"`
}

// ContextMatch is the outcome of warehouse context resolution.
type ContextMatch struct {
	WarehouseID     string  `json:"warehouse_id"`
	Score           float64 `json:"score"`
	ConfidenceLevel string  `json:"confidence_level"`
}

// ValidationResult reports whether a code fits a warehouse layout.
type ValidationResult struct {
	Code   string `json:"code"`
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Warehouses lists registered warehouses.
func (c *Client) Warehouses(ctx context.Context) ([]Warehouse, error) {
	var resp []Warehouse
	err := c.do(ctx, http.MethodGet, "v0/warehouses", nil, &resp)
	return resp, err
}

// ValidateLocation checks a code against a warehouse layout.
func (c *Client) ValidateLocation(ctx context.Context, warehouseID, code string) (ValidationResult, error) {
	body := map[string]any{"code": code}
	var resp ValidationResult
	endpoint := fmt.Sprintf("v0/warehouses/%s/locations/validate", url.PathEscape(warehouseID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// LocationProperties derives a location's full record.
func (c *Client) LocationProperties(ctx context.Context, warehouseID, code string) (Location, error) {
	var resp Location
	endpoint := fmt.Sprintf("v0/warehouses/%s/locations/%s", url.PathEscape(warehouseID), url.PathEscape(code))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DetectContext resolves which warehouse a set of locations belongs to.
func (c *Client) DetectContext(ctx context.Context, locations []string) (ContextMatch, error) {
	body := map[string]any{"locations": locations}
	var resp ContextMatch
	err := c.do(ctx, http.MethodPost, "v0/context/detect", body, &resp)
	return resp, err
}

// Analyze runs all active rules against a snapshot and returns the run.
func (c *Client) Analyze(ctx context.Context, rows []PalletRow) (Run, error) {
	body := map[string]any{"snapshot": map[string]any{"rows": rows}}
	var resp Run
	err := c.do(ctx, http.MethodPost, "v0/runs", body, &resp)
	return resp, err
}

// Run fetches a past run by id.
func (c *Client) Run(ctx context.Context, runID string) (Run, error) {
	var resp Run
	endpoint := fmt.Sprintf("v0/runs/%s", url.PathEscape(runID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RunAnomalies lists a run's anomalies, optionally filtered by rule.
func (c *Client) RunAnomalies(ctx context.Context, runID, ruleID string) ([]Anomaly, error) {
	endpoint := fmt.Sprintf("v0/runs/%s/anomalies", url.PathEscape(runID))
	if ruleID != "" {
		endpoint = fmt.Sprintf("%s?rule_id=%s", endpoint, url.QueryEscape(ruleID))
	}
	var resp []Anomaly
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
