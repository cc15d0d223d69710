package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spigell/intern-allocator/internal/cycle"
	"github.com/spigell/intern-allocator/internal/logger"
	"github.com/spigell/intern-allocator/internal/secrets"
	"github.com/spigell/intern-allocator/internal/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scheduler, the rescoring worker and the HTTP server",
	Run: func(_ *cobra.Command, _ []string) {
		run()
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("listen", "l", "", "address for the HTTP server (overrides server.listen)")
	runCmd.Flags().Bool("no-scheduler", false, "do not run scheduled allocation cycles in this replica")

	viper.BindPFlag("server.listen", runCmd.Flags().Lookup("listen"))
	viper.BindPFlag("no-scheduler", runCmd.Flags().Lookup("no-scheduler"))
}

// run is the long running mode of the allocator.
func run() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, config := setup(logger.New)

	logger.Info("starting the intern-allocator", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	a, err := newApplication(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}
	defer a.Close()

	adminToken, err := secrets.Load(secrets.Source{
		Name:     "admin token",
		File:     config.Server.AdminTokenFile,
		Env:      "ALLOCATOR_ADMIN_TOKEN",
		Optional: true,
	})
	if err != nil {
		logger.Fatal("loading admin token", zap.Error(err))
	}
	if adminToken == "" {
		logger.Warn("admin endpoints are not protected",
			zap.String("hint", "set server.admin-token-file or ALLOCATOR_ADMIN_TOKEN"),
		)
	}

	srv := server.New(server.Config{
		Listen:        config.Server.Listen,
		AdminToken:    adminToken,
		ManualTimeout: config.Allocation.ManualTimeout,
	}, server.Deps{
		Cycles:       a.orchestrator,
		Applications: a.submissions,
		Gatherer:     a.registry,
		Logger:       logger.Named("http"),
	})

	var (
		wg   sync.WaitGroup
		errs = make(chan error, 3)
	)
	start := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				stop()
			}
		}()
	}

	start("http server", srv.Run)

	if viper.GetBool("no-scheduler") {
		logger.Info("scheduler disabled for this replica")
	} else {
		start("scheduler", cycle.NewScheduler(a.orchestrator, config.Schedule.Interval, logger.Named("scheduler")).Run)
	}

	if a.consumer != nil {
		start("score worker", func(ctx context.Context) error {
			return a.consumer.Consume(ctx, a.submissions.Rescore)
		})
	}

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	close(errs)

	failed := false
	for err := range errs {
		failed = true
		logger.Error("component failed", zap.Error(err))
	}
	if failed {
		a.Close()
		os.Exit(1)
	}
}

// setup builds the logger and reads the config. Any failure is fatal.
func setup(newLogger func(json, debug bool) (*zap.Logger, error)) (*zap.Logger, *Config) {
	logger, err := newLogger(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		logger.Fatal("config is required")
	}

	return logger, config
}
