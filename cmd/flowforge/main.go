package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/flowforge/flowforge/internal/alert"
	"github.com/flowforge/flowforge/internal/api"
	"github.com/flowforge/flowforge/internal/queue"
	"github.com/flowforge/flowforge/internal/scheduler"
	"github.com/flowforge/flowforge/internal/store"
	"github.com/flowforge/flowforge/internal/worker"
	"github.com/flowforge/flowforge/pkg/config"
	"github.com/flowforge/flowforge/pkg/connector/registry"
	"github.com/flowforge/flowforge/pkg/logger"
	"github.com/flowforge/flowforge/pkg/models"

	// Import all connectors to register them
	_ "github.com/flowforge/flowforge/pkg/connector/crm"
	_ "github.com/flowforge/flowforge/pkg/connector/graphql"
	_ "github.com/flowforge/flowforge/pkg/connector/mysql"
	_ "github.com/flowforge/flowforge/pkg/connector/postgres"
)

var version = "0.1.0"

func loggerConfig(cfg *config.ServiceConfig) logger.Config {
	return logger.Config{
		Level:       cfg.Logging.Level,
		Encoding:    cfg.Logging.Encoding,
		Development: cfg.Logging.Development,
	}
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	var configFile string

	root := &cobra.Command{
		Use:   "flowforge",
		Short: "FlowForge - data pipeline execution service",
		Long: `FlowForge runs configured data pipelines: it extracts from SQL,
GraphQL and CRM sources, transforms and quality-checks batches, loads
them durably, and evaluates threshold alerts over saved queries.`,
	}
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "service config file")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("FlowForge v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "connectors",
		Short: "List available source connectors",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range registry.List() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the API server, worker pool and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configFile)
		},
	})

	var pipelineFile string
	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Create a pipeline from a declarative YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return apply(configFile, pipelineFile)
		},
	}
	applyCmd.Flags().StringVarP(&pipelineFile, "file", "f", "", "pipeline YAML file")
	_ = applyCmd.MarkFlagRequired("file")
	root.AddCommand(applyCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serve wires the store, queue, worker pool, scheduler and HTTP server
// and blocks until SIGINT/SIGTERM.
func serve(configFile string) error {
	cfg, err := config.LoadService(configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(loggerConfig(cfg)); err != nil {
		return err
	}
	defer logger.Sync()

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	q := queue.New(st.DB(), queue.Config{
		MaxAttempts:     cfg.Worker.MaxAttempts,
		BackoffBase:     2 * time.Second,
		BackoffMax:      5 * time.Minute,
		LeaseDuration:   10 * time.Minute,
		RetentionFailed: cfg.Worker.RetentionFailed,
	})

	pool := worker.New(st, q, worker.Config{
		Concurrency:        cfg.Worker.Concurrency,
		PollInterval:       cfg.Worker.PollInterval,
		RetentionCompleted: cfg.Worker.RetentionCompleted,
		RetentionFailed:    cfg.Worker.RetentionFailed,
	})
	trigger := worker.NewTrigger(st, q)

	var sender alert.EmailSender
	if cfg.Alerting.SMTPAddr != "" {
		sender = alert.NewSMTPSender(cfg.Alerting.SMTPAddr, cfg.Alerting.SMTPFrom)
	}
	evaluator := alert.New(st, sender, alert.NewWebhookNotifier(cfg.Alerting.WebhookTimeout))

	sched, err := scheduler.New(st, trigger, evaluator, cfg.Alerting.Schedule)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	go pool.Run(ctx)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewServer(st, trigger, evaluator, cfg.Server.TriggerSecret).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening", zap.String("addr", cfg.Server.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// pipelineSpec is the declarative YAML form accepted by apply
type pipelineSpec struct {
	Name              string                      `yaml:"name"`
	WorkspaceID       string                      `yaml:"workspaceId"`
	SourceType        string                      `yaml:"sourceType"`
	SourceConfig      *config.ConnectionConfig    `yaml:"sourceConfig"`
	DestinationType   string                      `yaml:"destinationType"`
	DestinationConfig *config.ConnectionConfig    `yaml:"destinationConfig"`
	Mode              string                      `yaml:"mode"`
	Query             string                      `yaml:"query"`
	Steps             []models.TransformationStep `yaml:"transformationSteps"`
	QualityRules      []models.QualityRule        `yaml:"qualityRules"`
	ScheduleCron      string                      `yaml:"scheduleCron"`
}

// apply creates a pipeline directly in the store from a YAML file
func apply(configFile, pipelineFile string) error {
	cfg, err := config.LoadService(configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(loggerConfig(cfg)); err != nil {
		return err
	}
	defer logger.Sync()

	data, err := os.ReadFile(pipelineFile)
	if err != nil {
		return err
	}
	var spec pipelineSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return fmt.Errorf("invalid pipeline file: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	mode := models.PipelineMode(spec.Mode)
	if mode == "" {
		mode = models.ModeETL
	}
	now := time.Now().UTC()
	pipeline := &models.Pipeline{
		ID:                uuid.NewString(),
		Name:              spec.Name,
		WorkspaceID:       spec.WorkspaceID,
		SourceType:        spec.SourceType,
		SourceConfig:      spec.SourceConfig,
		DestinationType:   spec.DestinationType,
		DestinationConfig: spec.DestinationConfig,
		Mode:              mode,
		Query:             spec.Query,
		Steps:             spec.Steps,
		QualityRules:      spec.QualityRules,
		ScheduleCron:      spec.ScheduleCron,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := st.CreatePipeline(context.Background(), pipeline); err != nil {
		return err
	}

	fmt.Printf("pipeline %s created (%s)\n", pipeline.Name, pipeline.ID)
	return nil
}
