package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stockwatch/internal/app"
	"stockwatch/internal/config"
	"stockwatch/internal/db"
	"stockwatch/internal/domain"
	"stockwatch/internal/engine"
	"stockwatch/internal/migrate"
	"stockwatch/internal/repo"
	"stockwatch/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sw",
	Short: "Stockwatch CLI",
	Long: `Stockwatch analyzes warehouse inventory snapshots for anomalies.
Core concepts:
- Workspace: your .stockwatch directory holding the registry database; configs are seeded from stockwatch.yml on first use.
- Warehouse: a registered location grammar (aisles, racks, positions, levels) plus special areas like receiving docks.
- Locations: codes such as 01-02-03A are validated and classified virtually; imported physical rows override the derived view.
- Context: given a snapshot, stockwatch scores every warehouse and picks the best match with a confidence level.
- Rules: configurable checks (stagnant pallets, overcapacity, invalid locations, split lots, mapping mismatches).
- Runs: each analysis persists its per-rule results and anomalies; view history with 'sw run list'.
- Event log: diary of registry changes and runs, view with 'sw log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("STOCKWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(warehouseCmd())
	rootCmd.AddCommand(ruleCmd())
	rootCmd.AddCommand(locateCmd())
	rootCmd.AddCommand(contextCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func warehouseCmd() *cobra.Command {
	wh := &cobra.Command{Use: "warehouse", Short: "Manage warehouse grammars"}
	wh.AddCommand(warehouseListCmd())
	wh.AddCommand(warehouseCreateCmd())
	wh.AddCommand(warehouseShowCmd())
	wh.AddCommand(warehouseUpdateCmd())
	wh.AddCommand(warehouseActiveCmd("deactivate", false))
	wh.AddCommand(warehouseActiveCmd("activate", true))
	wh.AddCommand(warehouseSummaryCmd())
	wh.AddCommand(warehouseImportCmd())
	wh.AddCommand(warehouseDetectFormatCmd())
	return wh
}

func warehouseListCmd() *cobra.Command {
	var includeInactive bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List warehouses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListWarehouses(ctx, includeInactive)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Aisles", "Racks", "Positions", "Levels", "Active"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.WarehouseID, g.Name, g.Aisles, g.RacksPerAisle, g.PositionsPerRack, g.LevelNames, g.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeInactive, "all", false, "include inactive warehouses")
	return cmd
}

func warehouseCreateCmd() *cobra.Command {
	var id, name, levels string
	var aisles, racks, positions, capacity int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a warehouse grammar",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g := domain.WarehouseGrammar{
					WarehouseID:      id,
					Name:             name,
					Aisles:           aisles,
					RacksPerAisle:    racks,
					PositionsPerRack: positions,
					LevelNames:       levels,
					DefaultCapacity:  capacity,
				}
				created, err := e.CreateWarehouse(ctx, g, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "warehouse id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().IntVar(&aisles, "aisles", 0, "aisle count")
	cmd.Flags().IntVar(&racks, "racks", 0, "racks per aisle")
	cmd.Flags().IntVar(&positions, "positions", 0, "positions per rack")
	cmd.Flags().StringVar(&levels, "levels", "ABCD", "level letters, ground first")
	cmd.Flags().IntVar(&capacity, "capacity", 1, "default pallets per location")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("aisles")
	_ = cmd.MarkFlagRequired("racks")
	_ = cmd.MarkFlagRequired("positions")
	return cmd
}

func warehouseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a warehouse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				g, err := r.GetWarehouse(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func warehouseUpdateCmd() *cobra.Command {
	var name, levels string
	var aisles, racks, positions, capacity int
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a warehouse grammar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Repo.GetWarehouse(ctx, args[0])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("name") {
					g.Name = name
				}
				if cmd.Flags().Changed("aisles") {
					g.Aisles = aisles
				}
				if cmd.Flags().Changed("racks") {
					g.RacksPerAisle = racks
				}
				if cmd.Flags().Changed("positions") {
					g.PositionsPerRack = positions
				}
				if cmd.Flags().Changed("levels") {
					g.LevelNames = levels
				}
				if cmd.Flags().Changed("capacity") {
					g.DefaultCapacity = capacity
				}
				updated, err := e.UpdateWarehouse(ctx, g, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().IntVar(&aisles, "aisles", 0, "aisle count")
	cmd.Flags().IntVar(&racks, "racks", 0, "racks per aisle")
	cmd.Flags().IntVar(&positions, "positions", 0, "positions per rack")
	cmd.Flags().StringVar(&levels, "levels", "", "level letters, ground first")
	cmd.Flags().IntVar(&capacity, "capacity", 0, "default pallets per location")
	return cmd
}

func warehouseActiveCmd(use string, active bool) *cobra.Command {
	short := "Deactivate a warehouse (kept for run history)"
	if active {
		short = "Reactivate a warehouse"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.SetWarehouseActive(ctx, args[0], active, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("warehouse %s active=%v\n", args[0], active)
				return nil
			})
		},
	}
}

func warehouseSummaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary <id>",
		Short: "Show a warehouse's theoretical layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				summary, err := e.WarehouseSummary(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(summary)
			})
		},
	}
	return cmd
}

func warehouseImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import-locations <id>",
		Short: "Import physical location rows from a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			var recs []domain.LocationRecord
			if err := json.Unmarshal(data, &recs); err != nil {
				return fmt.Errorf("parse %s: %w", filePath, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				count, err := e.ImportLocations(ctx, args[0], recs, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("imported %d locations into %s\n", count, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to JSON array of location records")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func warehouseDetectFormatCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "detect-format <id> [examples...]",
		Short: "Learn the location-code format from example codes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			examples := args[1:]
			if filePath != "" {
				data, err := os.ReadFile(filePath)
				if err != nil {
					return err
				}
				for _, line := range strings.Split(string(data), "\n") {
					if line = strings.TrimSpace(line); line != "" {
						examples = append(examples, line)
					}
				}
			}
			if len(examples) == 0 {
				return fmt.Errorf("no example codes given")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pattern, err := e.DetectFormat(ctx, args[0], examples, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(pattern)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "file with one example code per line")
	return cmd
}

func ruleCmd() *cobra.Command {
	r := &cobra.Command{Use: "rule", Short: "Manage anomaly rules"}
	r.AddCommand(ruleListCmd())
	r.AddCommand(ruleCreateCmd())
	r.AddCommand(ruleShowCmd())
	r.AddCommand(ruleUpdateCmd())
	r.AddCommand(ruleTestCmd())
	return r
}

func ruleListCmd() *cobra.Command {
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListRules(ctx, activeOnly)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Priority", "Active"})
				for _, rule := range items {
					tw.AppendRow(table.Row{rule.ID, rule.Name, rule.RuleType, rule.Priority, rule.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active rules")
	return cmd
}

func ruleCreateCmd() *cobra.Command {
	var id, name, ruleType, conditionsJSON string
	var priority int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule",
		RunE: func(cmd *cobra.Command, args []string) error {
			conditions := map[string]any{}
			if conditionsJSON != "" {
				if err := json.Unmarshal([]byte(conditionsJSON), &conditions); err != nil {
					return fmt.Errorf("parse --conditions: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule := domain.Rule{
					ID:         id,
					Name:       name,
					RuleType:   ruleType,
					Conditions: conditions,
					Priority:   priority,
				}
				created, err := e.CreateRule(ctx, rule, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "rule id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&ruleType, "type", "", "rule type")
	cmd.Flags().StringVar(&conditionsJSON, "conditions", "", "conditions as JSON object")
	cmd.Flags().IntVar(&priority, "priority", 5, "priority (>=8 critical, >=4 warning)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func ruleShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rule, err := r.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rule)
			})
		},
	}
	return cmd
}

func ruleUpdateCmd() *cobra.Command {
	var name, conditionsJSON string
	var priority int
	var active bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.Repo.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("name") {
					rule.Name = name
				}
				if cmd.Flags().Changed("conditions") {
					conditions := map[string]any{}
					if err := json.Unmarshal([]byte(conditionsJSON), &conditions); err != nil {
						return fmt.Errorf("parse --conditions: %w", err)
					}
					rule.Conditions = conditions
				}
				if cmd.Flags().Changed("priority") {
					rule.Priority = priority
				}
				if cmd.Flags().Changed("active") {
					rule.Active = active
				}
				updated, err := e.UpdateRule(ctx, rule, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(updated)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&conditionsJSON, "conditions", "", "conditions as JSON object")
	cmd.Flags().IntVar(&priority, "priority", 0, "priority")
	cmd.Flags().BoolVar(&active, "active", true, "active flag")
	return cmd
}

func ruleTestCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "test <id>",
		Short: "Evaluate one rule against a snapshot without persisting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rule, err := e.Repo.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				result, err := e.EvaluateRule(ctx, rule, snap)
				if err != nil {
					return err
				}
				return printJSONOrTable(result)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to snapshot JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func locateCmd() *cobra.Command {
	loc := &cobra.Command{Use: "locate", Short: "Validate and inspect location codes"}
	loc.AddCommand(locateValidateCmd())
	loc.AddCommand(locatePropsCmd())
	return loc
}

func locateValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <warehouse> <code>",
		Short: "Check a location code against a warehouse layout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				valid, reason, err := e.ValidateLocation(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"code": args[1], "valid": valid, "reason": reason})
				}
				if valid {
					fmt.Printf("%s: valid\n", args[1])
				} else {
					fmt.Printf("%s: invalid (%s)\n", args[1], reason)
				}
				return nil
			})
		},
	}
	return cmd
}

func locatePropsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "props <warehouse> <code>",
		Short: "Derive a location's type, zone, capacity and coordinates",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.LocationProperties(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("location %s is not valid for warehouse %s", args[1], args[0])
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func contextCmd() *cobra.Command {
	ctxCmd := &cobra.Command{Use: "context", Short: "Warehouse context resolution"}
	ctxCmd.AddCommand(contextDetectCmd())
	return ctxCmd
}

func contextDetectCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "detect [locations...]",
		Short: "Resolve which warehouse a set of locations belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			locations := args
			if filePath != "" {
				snap, err := readSnapshot(filePath)
				if err != nil {
					return err
				}
				locations = append(locations, app.SnapshotLocations(snap)...)
			}
			if len(locations) == 0 {
				return fmt.Errorf("no locations given")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				match, err := e.DetectContext(ctx, locations)
				if err != nil {
					return err
				}
				return printJSONOrTable(match)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to snapshot JSON to take locations from")
	return cmd
}

func analyzeCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Run all active rules against a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := readSnapshot(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.EvaluateAllRules(ctx, snap, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				fmt.Printf("run %s: warehouse=%s score=%.2f confidence=%s status=%s\n",
					run.ID, run.WarehouseID, run.Score, run.ConfidenceLevel, run.Status)
				printAnomalyTable(run.Results)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to snapshot JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runCmd() *cobra.Command {
	run := &cobra.Command{Use: "run", Short: "Inspect past analysis runs"}
	run.AddCommand(runListCmd())
	run.AddCommand(runShowCmd())
	return run
}

func runListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				runs, err := r.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Warehouse", "Score", "Confidence", "Rows", "Status", "Started"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.WarehouseID, fmt.Sprintf("%.2f", run.Score), run.ConfidenceLevel, run.RowCount, run.Status, run.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 20, "number of runs")
	return cmd
}

func runShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a run with its per-rule results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				fmt.Printf("run %s: warehouse=%s score=%.2f confidence=%s status=%s rows=%d\n",
					run.ID, run.WarehouseID, run.Score, run.ConfidenceLevel, run.Status, run.RowCount)
				printAnomalyTable(run.Results)
				return nil
			})
		},
	}
	return cmd
}

func printAnomalyTable(results []domain.RuleResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Rule", "Status", "Anomalies", "Skipped", "ms"})
	for _, res := range results {
		tw.AppendRow(table.Row{res.RuleID, res.Status, len(res.Anomalies), res.SkippedRows, res.ExecutionTimeMs})
	}
	tw.Render()
	for _, res := range results {
		for _, a := range res.Anomalies {
			fmt.Printf("  [%s] %s\n", a.Severity, a.Description)
		}
		if res.ErrorMessage != "" {
			fmt.Printf("  [failed] %s: %s\n", res.RuleID, res.ErrorMessage)
		}
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage stockwatch.yml"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default stockwatch.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stockwatch.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show registry status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				warehouses, err := e.Repo.ListWarehouses(ctx, true)
				if err != nil {
					return err
				}
				rules, err := e.Repo.ListRules(ctx, false)
				if err != nil {
					return err
				}
				runs, err := e.Repo.ListRuns(ctx, 1)
				if err != nil {
					return err
				}
				out := map[string]any{
					"warehouses": len(warehouses),
					"rules":      len(rules),
				}
				if len(runs) > 0 {
					out["last_run"] = runs[0].ID
					out["last_run_status"] = runs[0].Status
				}
				return printJSONOrTable(out)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Event log"}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, nil)
			cfg, err := app.EnsureRegistry(cmd.Context(), workspace, viper.GetString("actor-id"), e)
			if err != nil {
				return err
			}
			e.Config = cfg
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, ActorID: viper.GetString("actor-id")})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Stockwatch API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e := engine.New(conn, nil)
	cfg, err := app.EnsureRegistry(ctx, workspace, viper.GetString("actor-id"), e)
	if err != nil {
		return err
	}
	e.Config = cfg
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(workspace)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func readSnapshot(path string) (domain.Snapshot, error) {
	var snap domain.Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(snap.Rows) == 0 {
		// allow a bare JSON array of rows as well
		var rows []domain.PalletRow
		if err := json.Unmarshal(data, &rows); err == nil && len(rows) > 0 {
			snap.Rows = rows
		}
	}
	return snap, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
