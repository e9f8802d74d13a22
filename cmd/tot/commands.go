// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianToT/services/llm"
	"github.com/AleutianAI/AleutianToT/services/tot/config"
	"github.com/AleutianAI/AleutianToT/services/tot/handlers"
	"github.com/AleutianAI/AleutianToT/services/tot/runner"
	"github.com/AleutianAI/AleutianToT/services/tot/search"
	"github.com/AleutianAI/AleutianToT/services/tot/tasks"
	"github.com/AleutianAI/AleutianToT/services/tot/telemetry"
)

// --- Global Command Variables ---
var (
	configPath string
	logLevel   string
	jsonOutput bool

	taskName     string
	startIndex   int
	endIndex     int
	naiveMode    bool
	evaluateMode string
	generateMode string
	oracleAssist bool
	concurrency  int
	outputPath   string

	servePort int

	cfg    config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:          "tot",
		Short:        "Tree-of-Thoughts search over LLM-proposed steps",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			applyFlags(cmd, &loaded)
			if err := loaded.Validate(); err != nil {
				return err
			}
			cfg = loaded
			logger = newLogger(os.Stderr, cfg.Log)
			slog.SetDefault(logger)
			return nil
		},
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Solve a range of task instances and print a summary",
		RunE:  runRange,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the solve API over HTTP",
		RunE:  serve,
	}

	tasksCmd = &cobra.Command{
		Use:   "tasks",
		Short: "List the registered tasks",
		RunE:  listTasks,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().StringVar(&taskName, "task", "", "Task name")
	rootCmd.PersistentFlags().BoolVar(&oracleAssist, "oracle-assist", true, "Add the oracle bonus to value scores")

	runCmd.Flags().IntVar(&startIndex, "start", 0, "First instance index")
	runCmd.Flags().IntVar(&endIndex, "end", 1, "Instance index to stop before")
	runCmd.Flags().BoolVar(&naiveMode, "naive", false, "Run the single-shot baseline")
	runCmd.Flags().StringVar(&evaluateMode, "evaluate", "", "Scoring policy (value, vote)")
	runCmd.Flags().StringVar(&generateMode, "generate", "", "Generation mode (propose, sample)")
	runCmd.Flags().IntVar(&concurrency, "concurrency", 1, "Instances solved at once")
	runCmd.Flags().StringVar(&outputPath, "output", "", "Write one JSON line per instance to this file")

	serveCmd.Flags().IntVar(&servePort, "port", 8080, "Port to listen on")

	rootCmd.AddCommand(runCmd, serveCmd, tasksCmd)
}

// applyFlags copies explicitly set flags over the loaded configuration.
func applyFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		c.Log.Level = logLevel
	}
	if flags.Changed("task") {
		c.Task.Name = taskName
	}
	if flags.Changed("oracle-assist") {
		c.Task.OracleAssist = oracleAssist
	}
	if flags.Changed("start") {
		c.Run.Start = startIndex
	}
	if flags.Changed("end") {
		c.Run.End = endIndex
	}
	if flags.Changed("naive") {
		c.Run.Naive = naiveMode
	}
	if flags.Changed("concurrency") {
		c.Run.Concurrency = concurrency
	}
	if flags.Changed("output") {
		c.Run.OutputPath = outputPath
	}
	if flags.Changed("evaluate") {
		c.Search.Evaluate = search.EvaluateMode(evaluateMode)
	}
	if flags.Changed("generate") {
		c.Search.Generate = search.GenerateMode(generateMode)
	}
	if flags.Changed("port") {
		c.Server.Port = servePort
	}
}

func newLogger(w io.Writer, c config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// stack is what run and serve share: telemetry, metrics and the model
// client.
type stack struct {
	registry *prometheus.Registry
	metrics  *search.Metrics
	tracer   *search.Tracer
	cache    *search.ValueCache
	client   *llm.Client
	shutdown func(context.Context) error
}

func newStack(ctx context.Context) (*stack, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	shutdown, err := telemetry.Init(ctx, cfg.Telemetry, telemetry.WithRegistry(reg))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	client, err := cfg.LLM.NewClient(logger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("build llm client: %w", err)
	}
	s := &stack{
		registry: reg,
		metrics:  search.NewMetrics(reg),
		tracer:   search.NewTracer(logger, cfg.Search.TracingEnabled),
		client:   client,
		shutdown: shutdown,
	}
	if cfg.Search.CacheValues {
		s.cache = search.NewValueCache()
	}
	return s, nil
}

func (s *stack) engineOptions() []search.Option {
	opts := []search.Option{
		search.WithLogger(logger),
		search.WithMetrics(s.metrics),
		search.WithTracer(s.tracer),
	}
	if s.cache != nil {
		opts = append(opts, search.WithValueCache(s.cache))
	}
	return opts
}

func (s *stack) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.shutdown(ctx); err != nil {
		logger.Warn("telemetry shutdown failed", slog.String("error", err.Error()))
	}
}

func runRange(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	task, err := tasks.New(cfg.Task.Name, cfg.Task.Options(logger))
	if err != nil {
		return err
	}
	engine, err := search.NewEngine(s.client, cfg.Search, s.engineOptions()...)
	if err != nil {
		return err
	}

	opts := runner.Options{Concurrency: cfg.Run.Concurrency, Naive: cfg.Run.Naive}
	if cfg.Run.OutputPath != "" {
		f, err := os.Create(cfg.Run.OutputPath)
		if err != nil {
			return fmt.Errorf("open output: %w", err)
		}
		defer f.Close()
		opts.Sink = f
	}

	sum, runErr := runner.New(engine, logger).RunRange(ctx, task, cfg.Run.Start, cfg.Run.End, opts)
	if sum != nil {
		if err := renderSummary(cmd.OutOrStdout(), sum, jsonOutput); err != nil {
			return err
		}
	}
	return runErr
}

func serve(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newStack(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	gin.SetMode(cfg.Server.GinMode)
	h := handlers.NewHandlers(s.client, cfg.Search,
		handlers.WithTaskOptions(cfg.Task.Options(logger)),
		handlers.WithEngineOptions(s.engineOptions()...),
		handlers.WithSolveTimeout(cfg.Server.SolveTimeout),
		handlers.WithLogger(logger))

	metrics := telemetry.MetricsHandler()
	if metrics == nil {
		metrics = promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
	}
	router := handlers.NewRouter(h, handlers.RouterConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Metrics:     metrics,
		AccessLog:   cfg.Server.GinMode == gin.DebugMode,
	})

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting tot server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down tot server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func listTasks(cmd *cobra.Command, _ []string) error {
	var infos []handlers.TaskInfo
	for _, name := range tasks.Names() {
		t, err := tasks.New(name, cfg.Task.Options(logger))
		if err != nil {
			return err
		}
		infos = append(infos, handlers.TaskInfo{Name: name, Instances: t.Len(), Steps: t.Steps()})
	}
	return renderTasks(cmd.OutOrStdout(), infos, jsonOutput)
}
