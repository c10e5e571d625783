package commands

import (
	"context"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"meal-plan-service/internal/app"
	"meal-plan-service/internal/clipper"
	"meal-plan-service/internal/config"
	"meal-plan-service/internal/database"
	"meal-plan-service/internal/llm"
	"meal-plan-service/internal/logging"
	"meal-plan-service/internal/metrics"
	"meal-plan-service/internal/planner"
	"meal-plan-service/internal/storage"
)

func Execute(ctx context.Context) error {
	return newRootCmd().ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:          "meal-plan",
		Short:        "Generate and manage AI meal plans",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			logging.Init(logging.Config{Level: logLevel, Format: "console", Output: cmd.ErrOrStderr()})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(
		generateCmd(),
		showCmd(),
		listCmd(),
		deleteCmd(),
		usageCmd(),
		metricsCleanupCmd(),
		tokenCmd(),
	)
	return root
}

// runtime holds the components a command works with.
type runtime struct {
	cfg     *config.Config
	db      *database.DB
	gen     *llm.BreakerGenerator
	store   storage.Store
	metrics *metrics.Store
	svc     *app.Service
}

// setup wires the service from the environment. The LLM client is only
// built, and its API key only required, when withLLM is set.
func setup(ctx context.Context, withLLM bool) (*runtime, error) {
	var opts []config.Option
	if !withLLM {
		opts = append(opts, config.WithoutLLMKeys())
	}
	cfg, err := config.NewFromEnv(opts...)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg}
	if rt.db, err = database.NewDB(cfg.DatabasePath); err != nil {
		return nil, err
	}
	rt.metrics = metrics.NewStore(rt.db.SQL)

	if rt.store, err = storage.Open(ctx, cfg, rt.db.SQL); err != nil {
		rt.Close()
		return nil, err
	}

	var (
		plans   app.PlanGenerator
		clipped app.RecipeClipper
	)
	if withLLM {
		if rt.gen, err = llm.NewTextGenerator(ctx, cfg); err != nil {
			rt.Close()
			return nil, err
		}
		plans = planner.NewPlanner(rt.gen, cfg.PlannerMaxAttempts)
		clipped = clipper.NewClipper(rt.gen)
	}

	rt.svc = app.NewService(plans, clipped, rt.store, rt.metrics, app.Options{
		DefaultMealCount: cfg.DefaultMealCount,
		DataPath:         filepath.Dir(cfg.DatabasePath),
	})
	return rt, nil
}

func (r *runtime) Close() {
	if r.gen != nil {
		_ = r.gen.Close()
	}
	if r.store != nil {
		_ = r.store.Close()
	}
	if r.db != nil {
		_ = r.db.Close()
	}
}
