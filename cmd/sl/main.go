package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"siteline/internal/app"
	"siteline/internal/config"
	"siteline/internal/db"
	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/logging"
	"siteline/internal/scheduler"
	"siteline/internal/server"
	"siteline/internal/status"
)

const dateLayout = "2006-01-02"

var rootCmd = &cobra.Command{
	Use:   "sl",
	Short: "Siteline CLI",
	Long: `Siteline infers the lifecycle status of construction projects from their activities and progress records.
Core concepts:
- Workspace: the .siteline directory holding the SQLite database; siteline.yml next to it configures store, cache, scheduler, API and notifications.
- Project: identified by id or code; its status is one of upcoming, site-preparation, on-going, completed-duration, contract-completed, on-hold, cancelled.
- Activity: a unit of work tagged pre-commencement, post-commencement or post-completion.
- KPI / progress record: a dated planned or actual quantity, joined to activities by name (case and surrounding spaces ignored).
- Recompute: classify a project from its data and store the result; on-hold and cancelled are kept when preserve_manual is set.
- Transition: an operator status change, allowed only along the transition table (see 'sl project targets').
- Event log: every status write is recorded, view with 'sl log tail'.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SITELINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/siteline.yml)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(activityCmd())
	rootCmd.AddCommand(kpiCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(recomputeCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectTransitionCmd())
	prj.AddCommand(projectTargetsCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	var statusFilter string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects with their stored status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter domain.Status
			if statusFilter != "" {
				s, err := domain.ParseStatus(statusFilter)
				if err != nil {
					return err
				}
				filter = s
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Store.ListProjects(ctx)
				if err != nil {
					return err
				}
				var out []domain.Project
				for _, p := range items {
					if filter == "" || p.Status == filter {
						out = append(out, p)
					}
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Code", "Name", "Status", "Confidence", "Source", "Reason"})
				for _, p := range out {
					tw.AppendRow(table.Row{p.Code, p.Name, p.Status, p.Confidence, p.StatusSource, p.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "status filter")
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var p domain.Project
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(p.Code) == "" {
				return fmt.Errorf("--code required")
			}
			for flag, v := range map[string]string{"--start": p.StartDate, "--end": p.EndDate} {
				if _, err := parseDate(flag, v); err != nil {
					return err
				}
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				created, err := a.Seeder.InsertProject(ctx, p, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("Created project %s (%s)\n", created.Code, created.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&p.Code, "code", "", "project code")
	cmd.Flags().StringVar(&p.Name, "name", "", "project name")
	cmd.Flags().StringVar(&p.StartDate, "start", "", "contract start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&p.EndDate, "end", "", "contract end date (YYYY-MM-DD)")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project>",
		Short: "Show project by id or code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Store.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectTransitionCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "transition <project> <status>",
		Short: "Manually move a project to another status",
		Long:  "Manual transitions follow a fixed table; contract-completed and cancelled are terminal. Use 'sl project targets <status>' to list legal moves.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			requested, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.SetStatus(ctx, args[0], requested, reason)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				fmt.Printf("Project %s is now %s\n", p.Code, p.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the transition")
	return cmd
}

func projectTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets <status>",
		Short: "List statuses reachable by manual transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			current, err := domain.ParseStatus(args[0])
			if err != nil {
				return err
			}
			targets := status.Targets(current)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"status": current, "targets": targets})
			}
			if len(targets) == 0 {
				fmt.Printf("%s is terminal\n", current)
				return nil
			}
			for _, t := range targets {
				fmt.Println(t)
			}
			return nil
		},
	}
	return cmd
}

func activityCmd() *cobra.Command {
	act := &cobra.Command{Use: "activity", Short: "Manage project activities"}
	act.AddCommand(activityAddCmd())
	act.AddCommand(activityListCmd())
	return act
}

func activityAddCmd() *cobra.Command {
	var (
		projectRef string
		timing     string
		a          domain.Activity
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectRef == "" {
				return fmt.Errorf("--project required")
			}
			t, err := domain.ParseTiming(timing)
			if err != nil {
				return err
			}
			a.Timing = t
			return withApp(cmd.Context(), func(ctx context.Context, ap *app.App) error {
				p, err := ap.Store.GetProject(ctx, projectRef)
				if err != nil {
					return err
				}
				a.ProjectCode = p.Code
				created, err := ap.Seeder.InsertActivity(ctx, a)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("Added %s activity %q to %s\n", created.Timing, created.Name, p.Code)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectRef, "project", "", "project id or code")
	cmd.Flags().StringVar(&a.Name, "name", "", "activity name")
	cmd.Flags().StringVar(&timing, "timing", "", "pre-commencement, post-commencement or post-completion")
	cmd.Flags().StringVar(&a.Unit, "unit", "", "unit of measure")
	cmd.Flags().Float64Var(&a.PlannedUnits, "planned-units", 0, "planned unit total")
	cmd.Flags().Float64Var(&a.ActualUnits, "actual-units", 0, "actual unit total")
	return cmd
}

func activityListCmd() *cobra.Command {
	var projectRef string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List activities of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectRef == "" {
				return fmt.Errorf("--project required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Store.GetProject(ctx, projectRef)
				if err != nil {
					return err
				}
				items, err := a.Store.ListActivities(ctx, p.Code)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Name", "Timing", "Unit", "Planned", "Actual"})
				for _, act := range items {
					tw.AppendRow(table.Row{act.Name, act.Timing, act.Unit, act.PlannedUnits, act.ActualUnits})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectRef, "project", "", "project id or code")
	return cmd
}

func kpiCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "kpi",
		Short: "Manage progress records",
		Long:  "Progress records (KPIs) are dated planned or actual quantities. They match activities by name, ignoring case and surrounding spaces.",
	}
	k.AddCommand(kpiAddCmd())
	k.AddCommand(kpiListCmd())
	return k
}

func kpiAddCmd() *cobra.Command {
	var (
		projectRef string
		inputType  string
		date       string
		r          domain.ProgressRecord
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record planned or actual progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectRef == "" {
				return fmt.Errorf("--project required")
			}
			in, err := domain.ParseInputType(inputType)
			if err != nil {
				return err
			}
			r.InputType = in
			if r.ActivityDate, err = parseDate("--date", date); err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Store.GetProject(ctx, projectRef)
				if err != nil {
					return err
				}
				r.ProjectCode = p.Code
				created, err := a.Seeder.InsertProgressRecord(ctx, r)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(created)
				}
				fmt.Printf("Recorded %s %g for %q on %s\n", created.InputType, created.Quantity, created.ActivityName, p.Code)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectRef, "project", "", "project id or code")
	cmd.Flags().StringVar(&r.ActivityName, "activity", "", "activity name")
	cmd.Flags().StringVar(&inputType, "type", "actual", "planned or actual")
	cmd.Flags().Float64Var(&r.Quantity, "qty", 0, "quantity")
	cmd.Flags().StringVar(&date, "date", "", "activity date (YYYY-MM-DD)")
	return cmd
}

func kpiListCmd() *cobra.Command {
	var projectRef string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List progress records of a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectRef == "" {
				return fmt.Errorf("--project required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Store.GetProject(ctx, projectRef)
				if err != nil {
					return err
				}
				items, err := a.Store.ListProgressRecords(ctx, p.Code)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Date", "Activity", "Type", "Quantity"})
				for _, r := range items {
					day := ""
					if !r.ActivityDate.IsZero() {
						day = r.ActivityDate.Format(dateLayout)
					}
					tw.AppendRow(table.Row{day, r.ActivityName, r.InputType, r.Quantity})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectRef, "project", "", "project id or code")
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <project>",
		Short: "Classify a project without storing the result",
		Long:  "Shows the status the engine would assign now, with per-phase progress, next to the stored status. Nothing is written; use 'sl recompute' to store it.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, res, err := a.Engine.Preview(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project_id":    p.ID,
						"project_code":  p.Code,
						"stored_status": p.Status,
						"result":        res,
					})
				}
				fmt.Printf("Project: %s (stored %s)\n", p.Code, p.Status)
				fmt.Printf("Inferred: %s, confidence %d: %s\n", res.Status, res.Confidence, res.Reason)
				tw := newTable()
				tw.AppendHeader(table.Row{"Phase", "Activities", "Started", "Completed", "Progress %"})
				for _, ph := range []struct {
					name string
					agg  status.PhaseAggregate
				}{
					{string(domain.TimingPreCommencement), res.Pre},
					{string(domain.TimingPostCommencement), res.Post},
					{string(domain.TimingPostCompletion), res.Completion},
				} {
					tw.AppendRow(table.Row{ph.name, ph.agg.Activities, ph.agg.Started, ph.agg.Completed, fmt.Sprintf("%.1f", ph.agg.Progress)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func recomputeCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "recompute [<project>]",
		Short: "Recompute and store project statuses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("give either a project or --all")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				var results []engine.RecomputeResult
				if all {
					var err error
					if results, err = a.Engine.RecomputeAll(ctx); err != nil {
						return err
					}
				} else {
					rr, err := a.Engine.Recompute(ctx, args[0])
					if err != nil {
						return err
					}
					results = []engine.RecomputeResult{rr}
				}
				return printRecompute(results)
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "recompute every project")
	return cmd
}

func printRecompute(results []engine.RecomputeResult) error {
	if viper.GetBool("json") {
		type item struct {
			ProjectID   string        `json:"project_id"`
			ProjectCode string        `json:"project_code"`
			Previous    domain.Status `json:"previous_status"`
			Skipped     bool          `json:"skipped"`
			Changed     bool          `json:"changed"`
			Error       string        `json:"error,omitempty"`
			Result      status.Result `json:"result"`
		}
		out := make([]item, 0, len(results))
		for _, r := range results {
			it := item{ProjectID: r.ProjectID, ProjectCode: r.ProjectCode, Previous: r.Previous, Skipped: r.Skipped, Changed: r.Changed, Result: r.Result}
			if r.Err != nil {
				it.Error = r.Err.Error()
			}
			out = append(out, it)
		}
		return printJSON(map[string]any{"summary": engine.Summarize(results), "results": out})
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Code", "Previous", "Status", "Confidence", "Reason"})
	for _, r := range results {
		reason := r.Result.Reason
		st := string(r.Result.Status)
		if r.Err != nil {
			st = "error"
			reason = r.Err.Error()
		}
		tw.AppendRow(table.Row{r.ProjectCode, r.Previous, st, r.Result.Confidence, reason})
	}
	sum := engine.Summarize(results)
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d changed", sum.Changed), fmt.Sprintf("%d skipped", sum.Skipped), fmt.Sprintf("%d failed", sum.Failed)})
	tw.Render()
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d projects failed", sum.Failed, sum.Total)
	}
	return nil
}

func serveCmd() *cobra.Command {
	var (
		addr, basePath string
		noScheduler    bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server and the recompute scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if addr == "" {
					addr = a.Config.Server.Addr
				}
				if basePath == "" {
					basePath = a.Config.Server.BasePath
				}
				jwtSecret := a.Config.Server.JWTSecret
				if v := viper.GetString("jwt-secret"); v != "" {
					jwtSecret = v
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					Seeder:   a.Seeder,
					Events:   a.Events,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: jwtSecret},
					Logger:   a.Logger.Named("http"),
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				})
				if !noScheduler {
					g.Go(func() error {
						sched := scheduler.Scheduler{
							Recomputer: a.Engine,
							Interval:   a.Config.Recompute.Interval.Std(),
							Logger:     a.Logger.Named("scheduler"),
						}
						if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
							return err
						}
						return nil
					})
				}
				fmt.Printf("Serving Siteline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "do not run periodic recomputation")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect siteline.yml",
		Long:  "siteline.yml configures the store driver, Redis cache, recompute scheduler, HTTP API and RabbitMQ notifications. SITELINE_* environment variables override selected keys.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default siteline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "Every project creation and status write, manual or automatic, with its previous and new status.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var (
		n          int
		projectRef string
		evtType    string
	)
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				projectID := ""
				if projectRef != "" {
					p, err := a.Store.GetProject(ctx, projectRef)
					if err != nil {
						return err
					}
					projectID = p.ID
				}
				events, err := a.Events.LatestEvents(ctx, n, projectID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Project", "Actor", "Payload"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.ProjectID, e.ActorID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectRef, "project", "", "project id or code")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

// loadConfig reads --config or the workspace file and applies SITELINE_*
// overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := viper.GetString("config"); path != "" {
		cfg, err = config.FromFile(path)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	overrides := map[string]*string{
		"store-driver": &cfg.Store.Driver,
		"store-dsn":    &cfg.Store.DSN,
		"redis-addr":   &cfg.Cache.RedisAddr,
		"amqp-url":     &cfg.Notify.AMQPURL,
		"log-level":    &cfg.Log.Level,
	}
	for key, dst := range overrides {
		if v := viper.GetString(key); v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	workspace := viper.GetString("workspace")
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
	}
	a, err := app.Open(ctx, workspace, cfg, logger)
	if err != nil {
		logger.Error("open workspace", zap.Error(err))
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func parseDate(flag, v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want YYYY-MM-DD", flag, v)
	}
	return t, nil
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
