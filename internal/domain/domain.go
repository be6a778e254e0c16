package domain

// Location types a code can classify as.
const (
	LocationStorage      = "STORAGE"
	LocationReceiving    = "RECEIVING"
	LocationStaging      = "STAGING"
	LocationDock         = "DOCK"
	LocationTransitional = "TRANSITIONAL"
	LocationUnknown      = "UNKNOWN"
)

// Rule types understood by the evaluator registry.
const (
	RuleStagnantPallets      = "STAGNANT_PALLETS"
	RuleOvercapacity         = "OVERCAPACITY"
	RuleInvalidLocation      = "INVALID_LOCATION"
	RuleUncoordinatedLots    = "UNCOORDINATED_LOTS"
	RuleLocationMappingError = "LOCATION_MAPPING_ERROR"
)

// Per-rule evaluation states.
const (
	RunPending   = "pending"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Context resolution confidence tiers.
const (
	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
	ConfidenceLow    = "LOW"
)

// SpecialArea is a named location outside the regular aisle-rack addressing.
type SpecialArea struct {
	Code     string `json:"code" yaml:"code"`
	Type     string `json:"type" yaml:"type" enum:"RECEIVING,STAGING,DOCK,TRANSITIONAL,STORAGE"`
	Capacity int    `json:"capacity" yaml:"capacity"`
	Zone     string `json:"zone,omitempty" yaml:"zone,omitempty"`
}

// WarehouseGrammar describes a warehouse's addressable coordinate space.
type WarehouseGrammar struct {
	WarehouseID      string         `json:"warehouse_id"`
	Name             string         `json:"name,omitempty"`
	Aisles           int            `json:"aisles"`
	RacksPerAisle    int            `json:"racks_per_aisle"`
	PositionsPerRack int            `json:"positions_per_rack"`
	LevelNames       string         `json:"level_names"`
	DefaultCapacity  int            `json:"default_capacity"`
	SpecialAreas     []SpecialArea  `json:"special_areas,omitempty"`
	DetectedFormat   *FormatPattern `json:"detected_format,omitempty"`
	Active           bool           `json:"active"`
	CreatedAt        string         `json:"created_at" format:"date-time"`
	UpdatedAt        string         `json:"updated_at" format:"date-time"`
}

// Segment kinds inside a format pattern.
const (
	SegmentDigits  = "digits"
	SegmentLetters = "letters"
	SegmentLiteral = "literal"
)

// Pattern types the detector can report.
const (
	PatternPositionLevel    = "position+level"
	PatternAisleRackPosLvl  = "aisle-rack-position-level"
	PatternAlphanumericFree = "alphanumeric-free"
)

// Segment is one structural run inside a location code.
type Segment struct {
	Kind    string `json:"kind" enum:"digits,letters,literal"`
	Length  int    `json:"length"`
	Charset string `json:"charset,omitempty"`
}

// FormatPattern is a learned location-code grammar.
type FormatPattern struct {
	PatternType    string    `json:"pattern_type"`
	Segments       []Segment `json:"segments"`
	Confidence     float64   `json:"confidence"`
	SourceExamples []string  `json:"source_examples,omitempty"`
}

// LocationRecord is the unified shape for physical and virtual locations.
type LocationRecord struct {
	Code        string `json:"code"`
	WarehouseID string `json:"warehouse_id"`
	Type        string `json:"type"`
	Zone        string `json:"zone,omitempty"`
	Capacity    int    `json:"capacity"`
	Aisle       int    `json:"aisle,omitempty"`
	Rack        int    `json:"rack,omitempty"`
	Position    int    `json:"position,omitempty"`
	Level       string `json:"level,omitempty"`
	Active      bool   `json:"active"`
}

// WarehouseSummary aggregates a warehouse's theoretical layout.
type WarehouseSummary struct {
	WarehouseID      string         `json:"warehouse_id"`
	StorageLocations int            `json:"storage_locations"`
	CountsByType     map[string]int `json:"counts_by_type"`
	TotalCapacity    int            `json:"total_capacity"`
	SpecialAreaCodes []string       `json:"special_area_codes,omitempty"`
}

// Rule is one configured anomaly check.
type Rule struct {
	ID         string         `json:"id"`
	Name       string         `json:"name,omitempty"`
	RuleType   string         `json:"rule_type" enum:"STAGNANT_PALLETS,OVERCAPACITY,INVALID_LOCATION,UNCOORDINATED_LOTS,LOCATION_MAPPING_ERROR"`
	Conditions map[string]any `json:"conditions,omitempty"`
	Priority   int            `json:"priority"`
	Active     bool           `json:"active"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
	UpdatedAt  string         `json:"updated_at" format:"date-time"`
}

// PalletRow is one row of an inventory snapshot handed in by the caller.
type PalletRow struct {
	PalletID          string `json:"pallet_id"`
	Location          string `json:"location"`
	CreatedAt         string `json:"created_at" format:"date-time"`
	LotID             string `json:"lot_id,omitempty"`
	ReceiptNumber     string `json:"receipt_number,omitempty"`
	DeclaredType      string `json:"declared_type,omitempty"`
	LastMovedAt       string `json:"last_moved_at,omitempty" format:"date-time"`
	QuantityAvailable int    `json:"quantity_available,omitempty"`
}

// Snapshot is a point-in-time inventory extract.
type Snapshot struct {
	Rows    []PalletRow `json:"rows"`
	TakenAt string      `json:"taken_at,omitempty" format:"date-time"`
}

// Anomaly is one detected problem, never mutated after creation.
type Anomaly struct {
	ID          string         `json:"id"`
	PalletID    string         `json:"pallet_id"`
	RuleID      string         `json:"rule_id"`
	RuleType    string         `json:"rule_type"`
	Location    string         `json:"location"`
	Severity    string         `json:"severity" enum:"critical,warning,info"`
	Description string         `json:"description"`
	Details     map[string]any `json:"details,omitempty"`
}

// RuleResult is the outcome of evaluating one rule over one snapshot.
type RuleResult struct {
	RuleID          string    `json:"rule_id"`
	RuleType        string    `json:"rule_type"`
	Status          string    `json:"status" enum:"pending,running,succeeded,failed"`
	Anomalies       []Anomaly `json:"anomalies,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	SkippedRows     int       `json:"skipped_rows,omitempty"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
}

// WarehouseMatchScore is one warehouse's match against a snapshot.
type WarehouseMatchScore struct {
	WarehouseID       string  `json:"warehouse_id"`
	TotalLocations    int     `json:"total_locations"`
	MatchingLocations int     `json:"matching_locations"`
	Score             float64 `json:"score"`
}

// ContextMatch is the outcome of warehouse context resolution.
type ContextMatch struct {
	WarehouseID     string                `json:"warehouse_id"`
	Score           float64               `json:"score"`
	ConfidenceLevel string                `json:"confidence_level" enum:"HIGH,MEDIUM,LOW"`
	DetailedScores  []WarehouseMatchScore `json:"detailed_scores,omitempty"`
}

// Run is one persisted evaluation over a snapshot.
type Run struct {
	ID              string       `json:"id"`
	WarehouseID     string       `json:"warehouse_id"`
	Score           float64      `json:"score"`
	ConfidenceLevel string       `json:"confidence_level"`
	LowConfidence   bool         `json:"low_confidence"`
	RowCount        int          `json:"row_count"`
	Status          string       `json:"status"`
	StartedAt       string       `json:"started_at" format:"date-time"`
	FinishedAt      string       `json:"finished_at,omitempty" format:"date-time"`
	Results         []RuleResult `json:"results,omitempty"`
}

// Event is one audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
