package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"stockwatch/internal/domain"
	"stockwatch/internal/engine"
	"stockwatch/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	ActorID  string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"warehouse main not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Stockwatch diagnostics API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	actorID := cfg.ActorID
	if actorID == "" {
		actorID = "api"
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Stockwatch API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerStatus(group, cfg.Engine)
	registerWarehouses(group, cfg.Engine, actorID)
	registerLocations(group, cfg.Engine, actorID)
	registerRules(group, cfg.Engine, actorID)
	registerContext(group, cfg.Engine)
	registerRuns(group, cfg.Engine, actorID)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	default:
		return "internal_error"
	}
}

// handleError maps engine errors to the API envelope.
func handleError(err error) error {
	if err == nil {
		return nil
	}
	var api *apiError
	if errors.As(err, &api) {
		return err
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "must be"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return newAPIError(http.StatusConflict, "conflict", "resource already exists", nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", msg, nil)
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Registry status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		warehouses, err := e.Repo.ListWarehouses(ctx, true)
		if err != nil {
			return nil, handleError(err)
		}
		rules, err := e.Repo.ListRules(ctx, false)
		if err != nil {
			return nil, handleError(err)
		}
		active := 0
		for _, w := range warehouses {
			if w.Active {
				active++
			}
		}
		activeRules := 0
		for _, r := range rules {
			if r.Active {
				activeRules++
			}
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{
			"warehouses":        len(warehouses),
			"active_warehouses": active,
			"rules":             len(rules),
			"active_rules":      activeRules,
		}}, nil
	})
}

func registerWarehouses(api huma.API, e engine.Engine, actorID string) {
	type warehousePath struct {
		WarehouseID string `path:"warehouse_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-warehouses",
		Method:      http.MethodGet,
		Path:        "/warehouses",
		Summary:     "List warehouses",
	}, func(ctx context.Context, input *struct {
		IncludeInactive bool `query:"include_inactive"`
	}) (*struct {
		Body []domain.WarehouseGrammar `json:"body"`
	}, error) {
		items, err := e.Repo.ListWarehouses(ctx, input.IncludeInactive)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WarehouseGrammar `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-warehouse",
		Method:        http.MethodPost,
		Path:          "/warehouses",
		Summary:       "Create warehouse",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateWarehouseRequest `json:"body"`
	}) (*struct {
		Body domain.WarehouseGrammar `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		g := domain.WarehouseGrammar{
			WarehouseID:      input.Body.ID,
			Name:             deref(input.Body.Name),
			Aisles:           input.Body.Aisles,
			RacksPerAisle:    input.Body.RacksPerAisle,
			PositionsPerRack: input.Body.PositionsPerRack,
			LevelNames:       input.Body.LevelNames,
			DefaultCapacity:  input.Body.DefaultCapacity,
			SpecialAreas:     input.Body.SpecialAreas,
		}
		created, err := e.CreateWarehouse(ctx, g, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WarehouseGrammar `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-warehouse",
		Method:      http.MethodGet,
		Path:        "/warehouses/{warehouse_id}",
		Summary:     "Get warehouse",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *warehousePath) (*struct {
		Body domain.WarehouseGrammar `json:"body"`
	}, error) {
		g, err := e.Repo.GetWarehouse(ctx, input.WarehouseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WarehouseGrammar `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-warehouse",
		Method:      http.MethodPut,
		Path:        "/warehouses/{warehouse_id}",
		Summary:     "Update warehouse",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WarehouseID string                 `path:"warehouse_id"`
		Body        UpdateWarehouseRequest `json:"body"`
	}) (*struct {
		Body domain.WarehouseGrammar `json:"body"`
	}, error) {
		g := domain.WarehouseGrammar{
			WarehouseID:      input.WarehouseID,
			Name:             deref(input.Body.Name),
			Aisles:           input.Body.Aisles,
			RacksPerAisle:    input.Body.RacksPerAisle,
			PositionsPerRack: input.Body.PositionsPerRack,
			LevelNames:       input.Body.LevelNames,
			DefaultCapacity:  input.Body.DefaultCapacity,
			SpecialAreas:     input.Body.SpecialAreas,
		}
		updated, err := e.UpdateWarehouse(ctx, g, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WarehouseGrammar `json:"body"`
		}{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-warehouse-active",
		Method:      http.MethodPost,
		Path:        "/warehouses/{warehouse_id}/active",
		Summary:     "Activate or deactivate warehouse",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WarehouseID string           `path:"warehouse_id"`
		Body        SetActiveRequest `json:"body"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		if err := e.SetWarehouseActive(ctx, input.WarehouseID, input.Body.Active, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"warehouse_id": input.WarehouseID, "active": input.Body.Active}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-warehouse-summary",
		Method:      http.MethodGet,
		Path:        "/warehouses/{warehouse_id}/summary",
		Summary:     "Warehouse layout summary",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *warehousePath) (*struct {
		Body domain.WarehouseSummary `json:"body"`
	}, error) {
		summary, err := e.WarehouseSummary(ctx, input.WarehouseID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WarehouseSummary `json:"body"`
		}{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "detect-warehouse-format",
		Method:      http.MethodPost,
		Path:        "/warehouses/{warehouse_id}/format/detect",
		Summary:     "Detect location-code format from examples",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WarehouseID string              `path:"warehouse_id"`
		Body        DetectFormatRequest `json:"body"`
	}) (*struct {
		Body domain.FormatPattern `json:"body"`
	}, error) {
		pattern, err := e.DetectFormat(ctx, input.WarehouseID, input.Body.Examples, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.FormatPattern `json:"body"`
		}{Body: pattern}, nil
	})
}

func registerLocations(api huma.API, e engine.Engine, actorID string) {
	huma.Register(api, huma.Operation{
		OperationID: "validate-location",
		Method:      http.MethodPost,
		Path:        "/warehouses/{warehouse_id}/locations/validate",
		Summary:     "Validate a location code",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WarehouseID string                  `path:"warehouse_id"`
		Body        ValidateLocationRequest `json:"body"`
	}) (*struct {
		Body ValidateLocationResponse `json:"body"`
	}, error) {
		if input.Body.Code == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "code is required", nil)
		}
		valid, reason, err := e.ValidateLocation(ctx, input.WarehouseID, input.Body.Code)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ValidateLocationResponse `json:"body"`
		}{Body: ValidateLocationResponse{Code: input.Body.Code, Valid: valid, Reason: reason}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-location-properties",
		Method:      http.MethodGet,
		Path:        "/warehouses/{warehouse_id}/locations/{code}",
		Summary:     "Derive location properties",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WarehouseID string `path:"warehouse_id"`
		Code        string `path:"code"`
	}) (*struct {
		Body domain.LocationRecord `json:"body"`
	}, error) {
		rec, err := e.LocationProperties(ctx, input.WarehouseID, input.Code)
		if err != nil {
			return nil, handleError(err)
		}
		if rec == nil {
			return nil, newAPIError(http.StatusNotFound, "not_found", fmt.Sprintf("location %s is not valid for warehouse %s", input.Code, input.WarehouseID), nil)
		}
		return &struct {
			Body domain.LocationRecord `json:"body"`
		}{Body: *rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-locations",
		Method:      http.MethodPost,
		Path:        "/warehouses/{warehouse_id}/locations",
		Summary:     "Import physical location rows",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WarehouseID string                 `path:"warehouse_id"`
		Body        ImportLocationsRequest `json:"body"`
	}) (*struct {
		Body ImportLocationsResponse `json:"body"`
	}, error) {
		count, err := e.ImportLocations(ctx, input.WarehouseID, input.Body.Locations, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ImportLocationsResponse `json:"body"`
		}{Body: ImportLocationsResponse{Imported: count}}, nil
	})
}

func registerRules(api huma.API, e engine.Engine, actorID string) {
	type rulePath struct {
		RuleID string `path:"rule_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List rules",
	}, func(ctx context.Context, input *struct {
		ActiveOnly bool `query:"active_only"`
	}) (*struct {
		Body []domain.Rule `json:"body"`
	}, error) {
		items, err := e.Repo.ListRules(ctx, input.ActiveOnly)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Rule `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Create rule",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.Rule `json:"body"`
	}, error) {
		rule := domain.Rule{
			ID:         deref(input.Body.ID),
			Name:       deref(input.Body.Name),
			RuleType:   input.Body.RuleType,
			Conditions: input.Body.Conditions,
			Priority:   input.Body.Priority,
		}
		created, err := e.CreateRule(ctx, rule, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Rule `json:"body"`
		}{Body: created}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-rule",
		Method:      http.MethodGet,
		Path:        "/rules/{rule_id}",
		Summary:     "Get rule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *rulePath) (*struct {
		Body domain.Rule `json:"body"`
	}, error) {
		rule, err := e.Repo.GetRule(ctx, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Rule `json:"body"`
		}{Body: rule}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPatch,
		Path:        "/rules/{rule_id}",
		Summary:     "Update rule",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RuleID string            `path:"rule_id"`
		Body   UpdateRuleRequest `json:"body"`
	}) (*struct {
		Body domain.Rule `json:"body"`
	}, error) {
		rule, err := e.Repo.GetRule(ctx, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		if input.Body.Name != nil {
			rule.Name = *input.Body.Name
		}
		if input.Body.Conditions != nil {
			rule.Conditions = input.Body.Conditions
		}
		if input.Body.Priority != nil {
			rule.Priority = *input.Body.Priority
		}
		if input.Body.Active != nil {
			rule.Active = *input.Body.Active
		}
		updated, err := e.UpdateRule(ctx, rule, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Rule `json:"body"`
		}{Body: updated}, nil
	})
}

func registerContext(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "detect-context",
		Method:      http.MethodPost,
		Path:        "/context/detect",
		Summary:     "Resolve which warehouse a set of locations belongs to",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body DetectContextRequest `json:"body"`
	}) (*struct {
		Body domain.ContextMatch `json:"body"`
	}, error) {
		match, err := e.DetectContext(ctx, input.Body.Locations)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ContextMatch `json:"body"`
		}{Body: match}, nil
	})
}

func registerRuns(api huma.API, e engine.Engine, actorID string) {
	type runPath struct {
		RunID string `path:"run_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-run",
		Method:        http.MethodPost,
		Path:          "/runs",
		Summary:       "Evaluate all active rules against a snapshot",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateRunRequest `json:"body"`
	}) (*struct {
		Body domain.Run `json:"body"`
	}, error) {
		if len(input.Body.Snapshot.Rows) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "snapshot.rows is required", nil)
		}
		run, err := e.EvaluateAllRules(ctx, input.Body.Snapshot, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Run `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.Run `json:"body"`
	}, error) {
		runs, err := e.Repo.ListRuns(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Run `json:"body"`
		}{Body: runs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}",
		Summary:     "Get run with per-rule results",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *runPath) (*struct {
		Body domain.Run `json:"body"`
	}, error) {
		run, err := e.Repo.GetRun(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Run `json:"body"`
		}{Body: run}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-anomalies",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/anomalies",
		Summary:     "List a run's anomalies",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		RunID  string `path:"run_id"`
		RuleID string `query:"rule_id"`
	}) (*struct {
		Body []domain.Anomaly `json:"body"`
	}, error) {
		if _, err := e.Repo.GetRun(ctx, input.RunID); err != nil {
			return nil, handleError(err)
		}
		anomalies, err := e.Repo.ListRunAnomalies(ctx, input.RunID, input.RuleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Anomaly `json:"body"`
		}{Body: anomalies}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail audit events",
	}, func(ctx context.Context, input *struct {
		N          int    `query:"n"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, input.N, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Stockwatch API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({ url: %q, dom_id: '#swagger-ui' });
      };
    </script>
  </body>
</html>`, specURL)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
