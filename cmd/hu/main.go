package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"hustleup/internal/attach"
	"hustleup/internal/config"
	"hustleup/internal/db"
	"hustleup/internal/domain"
	"hustleup/internal/engine"
	"hustleup/internal/migrate"
	"hustleup/internal/notify"
	"hustleup/internal/repo"
	"hustleup/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "hu",
	Short: "Hustleup CLI",
	Long: `Hustleup runs the workflow between a client and a worker on a gig:
progress reports are submitted and reviewed in order, payouts are requested
under a cap and cooldown, and every change lands in an event log.

Core concepts:
- Gig: one engagement between a client and a worker, with a budget and a
  fixed number of progress report slots.
- Reports: numbered milestones. A report unlocks only when every earlier one
  is approved; a rejection sends the gig into action_required.
- Payout: once all reports are approved the worker requests payment; the
  client accepts and completes it. Requests are capped and rate limited.
- Event log: the diary of everything that happened, view with 'hu log tail'.`,
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
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("HUSTLEUP")
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
	rootCmd.AddCommand(gigCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func gigCmd() *cobra.Command {
	gig := &cobra.Command{Use: "gig", Short: "Manage gigs"}
	gig.AddCommand(gigCreateCmd())
	gig.AddCommand(gigListCmd())
	gig.AddCommand(gigGetCmd())
	gig.AddCommand(gigWatchCmd())
	gig.AddCommand(gigStatusCmd())
	return gig
}

func gigCreateCmd() *cobra.Command {
	var opts engine.GigCreateOptions
	var deadline string
	var reportDeadlines []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a gig",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if opts.ClientID == "" {
				opts.ClientID = opts.ActorID
			}
			if deadline != "" {
				opts.Deadline = &deadline
			}
			opts.ReportDeadlines = reportDeadlines
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGig(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "gig id (random UUID if omitted)")
	cmd.Flags().StringVar(&opts.ClientID, "client", "", "client id (defaults to --actor-id)")
	cmd.Flags().StringVar(&opts.WorkerID, "worker", "", "worker id")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&deadline, "deadline", "", "gig deadline (RFC3339)")
	cmd.Flags().Float64Var(&opts.Budget, "budget", 0, "budget")
	cmd.Flags().StringVar(&opts.Currency, "currency", "", "currency (default USD)")
	cmd.Flags().IntVar(&opts.NumberOfReports, "reports", 0, "number of progress report slots")
	cmd.Flags().StringArrayVar(&reportDeadlines, "report-deadline", []string{}, "per-slot deadline, RFC3339, repeatable in slot order")
	_ = cmd.MarkFlagRequired("worker")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func gigListCmd() *cobra.Command {
	var filters repo.GigFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List gigs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListGigs(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Client", "Worker", "Status", "Requests", "Updated"})
				for _, g := range items {
					tw.AppendRow(table.Row{g.ID, g.Title, g.ClientID, g.WorkerID, g.Status, g.PaymentRequestsCount, g.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filters.ClientID, "client", "", "filter by client id")
	cmd.Flags().StringVar(&filters.WorkerID, "worker", "", "filter by worker id")
	cmd.Flags().StringVar(&filters.Status, "status", "", "filter by stored status")
	cmd.Flags().IntVar(&filters.Limit, "limit", 0, "max results")
	return cmd
}

func gigGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <gig-id>",
		Short: "Show a gig with derived status and payment eligibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.GetGig(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func gigWatchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <gig-id>",
		Short: "Stream gig changes until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				updates, err := e.Repo.WatchGig(ctx, args[0], interval)
				if err != nil {
					return err
				}
				for g := range updates {
					view := e.AnnotateGig(g)
					if err := printJSON(view); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	return cmd
}

func gigStatusCmd() *cobra.Command {
	var workerID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Gig counts by status, plus stalled payouts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountGigsByStatus(ctx, workerID)
				if err != nil {
					return err
				}
				stalled, err := e.StalledGigs(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"counts": counts, "stalled": stalled})
				}
				fmt.Println("Gigs:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				if len(stalled) == 0 {
					fmt.Println("Stalled payouts: none")
					return nil
				}
				fmt.Println("Stalled payouts:")
				for _, g := range stalled {
					fmt.Printf("  %s (%s) last updated %s\n", g.ID, g.Title, g.UpdatedAt)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workerID, "worker", "", "scope counts to one worker")
	return cmd
}

func reportCmd() *cobra.Command {
	report := &cobra.Command{
		Use:   "report",
		Short: "Submit, withdraw and review progress reports",
	}
	report.AddCommand(reportSubmitCmd())
	report.AddCommand(reportUnsubmitCmd())
	report.AddCommand(reportReviewCmd())
	return report
}

func reportSubmitCmd() *cobra.Command {
	var opts engine.SubmitOptions
	var files []string
	cmd := &cobra.Command{
		Use:   "submit <gig-id> <report-number>",
		Short: "Submit or resubmit a progress report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.GigID = args[0]
			if _, err := fmt.Sscanf(args[1], "%d", &opts.ReportNumber); err != nil {
				return fmt.Errorf("report number: %w", err)
			}
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				for _, path := range files {
					f, err := os.Open(path)
					if err != nil {
						return err
					}
					ref, err := e.Attachments.Put(ctx, filepath.Base(path), f)
					f.Close()
					if err != nil {
						return err
					}
					opts.Attachments = append(opts.Attachments, ref)
				}
				g, err := e.SubmitReport(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Text, "text", "", "report text")
	cmd.Flags().StringArrayVar(&files, "attach", []string{}, "file to attach (repeatable)")
	return cmd
}

func reportUnsubmitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unsubmit <gig-id> <report-number>",
		Short: "Withdraw a submitted report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
				return fmt.Errorf("report number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.UnsubmitReport(ctx, args[0], n, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func reportReviewCmd() *cobra.Command {
	var approve, reject bool
	var feedback string
	cmd := &cobra.Command{
		Use:   "review <gig-id> <report-number>",
		Short: "Approve or reject a submitted report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == reject {
				return fmt.Errorf("exactly one of --approve or --reject required")
			}
			var n int
			if _, err := fmt.Sscanf(args[1], "%d", &n); err != nil {
				return fmt.Errorf("report number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.ReviewReport(ctx, args[0], n, approve, feedback, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve the report")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject the report")
	cmd.Flags().StringVar(&feedback, "feedback", "", "review feedback")
	return cmd
}

func paymentCmd() *cobra.Command {
	payment := &cobra.Command{
		Use:   "payment",
		Short: "Request and settle payouts",
	}
	payment.AddCommand(paymentCanCmd())
	payment.AddCommand(paymentRequestCmd())
	payment.AddCommand(paymentAcceptCmd())
	payment.AddCommand(paymentDeclineCmd())
	payment.AddCommand(paymentCompleteCmd())
	return payment
}

func paymentCanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "can <gig-id>",
		Short: "Check payout request eligibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				elig, err := e.CanRequestPayment(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(elig)
				}
				if elig.OK {
					fmt.Println("eligible")
					return nil
				}
				fmt.Printf("not eligible: %s\n", elig.Reason)
				if elig.NextEligibleAt != nil {
					fmt.Printf("next eligible at %s\n", elig.NextEligibleAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	return cmd
}

func paymentRequestCmd() *cobra.Command {
	return gigActionCmd("request <gig-id>", "Request a payout",
		func(ctx context.Context, e engine.Engine, gigID, actorID string) (engine.GigView, error) {
			return e.RequestPayment(ctx, gigID, actorID)
		})
}

func paymentAcceptCmd() *cobra.Command {
	return gigActionCmd("accept <gig-id>", "Accept a pending payout request",
		func(ctx context.Context, e engine.Engine, gigID, actorID string) (engine.GigView, error) {
			return e.AcceptPaymentRequest(ctx, gigID, actorID)
		})
}

func paymentDeclineCmd() *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "decline <gig-id>",
		Short: "Decline a pending payout request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.DeclinePaymentRequest(ctx, args[0], feedback, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "reason for declining")
	return cmd
}

func paymentCompleteCmd() *cobra.Command {
	return gigActionCmd("complete <gig-id>", "Mark the accepted payout as executed",
		func(ctx context.Context, e engine.Engine, gigID, actorID string) (engine.GigView, error) {
			return e.CompletePayout(ctx, gigID, actorID)
		})
}

func gigActionCmd(use, short string, fn func(context.Context, engine.Engine, string, string) (engine.GigView, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := fn(ctx, e, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
}

func keysCmd() *cobra.Command {
	keys := &cobra.Command{Use: "keys", Short: "Manage API keys"}
	keys.AddCommand(keysCreateCmd())
	keys.AddCommand(keysListCmd())
	keys.AddCommand(keysDeleteCmd())
	return keys
}

func keysCreateCmd() *cobra.Command {
	var actorID, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key (plaintext shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actorID == "" {
				actorID = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				plaintext := uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: actorID,
					Role:    role,
					Name:    name,
					KeyHash: repo.HashAPIKey(plaintext),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"id":       key.ID,
					"actor_id": key.ActorID,
					"role":     key.Role,
					"key":      plaintext,
				})
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&role, "role", "", "role (client or worker)")
	cmd.Flags().StringVar(&name, "name", "", "key name")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func keysListCmd() *cobra.Command {
	var actorID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Role", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actorID, "actor", "", "filter by actor id")
	return cmd
}

func keysDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var gigID, evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, gigID, evtType, "", "")
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Gig", "Actor"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.GigID, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&gigID, "gig", "", "gig id filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("HUSTLEUP_JWT_SECRET"), Logger: e.Logger}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("HUSTLEUP_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				notify.StartWebhookDispatcher(ctx, e.Repo, e.Config.Webhooks, e.Logger)
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Hustleup API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	logger, closeLog := cfg.SetupLogger()
	defer closeLog()
	attachDir := cfg.Attachments.Dir
	if !filepath.IsAbs(attachDir) {
		attachDir = filepath.Join(workspace, attachDir)
	}
	store, err := attach.NewLocal(attachDir)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	e.Attachments = store
	e.Notifier = notify.Log{Logger: logger}
	e.Logger = logger
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
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
