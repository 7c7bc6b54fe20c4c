package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/han0110/zkevm-chain/internal/analytics"
	"github.com/han0110/zkevm-chain/internal/api"
	"github.com/han0110/zkevm-chain/internal/circuitbreaker"
	"github.com/han0110/zkevm-chain/internal/config"
	"github.com/han0110/zkevm-chain/internal/coordinator"
	"github.com/han0110/zkevm-chain/internal/domain"
	"github.com/han0110/zkevm-chain/internal/engine"
	"github.com/han0110/zkevm-chain/internal/gate"
	"github.com/han0110/zkevm-chain/internal/gitrepo"
	"github.com/han0110/zkevm-chain/internal/leaderelection"
	"github.com/han0110/zkevm-chain/internal/metrics"
	"github.com/han0110/zkevm-chain/internal/orchestrator"
	"github.com/han0110/zkevm-chain/internal/pipeline"
	"github.com/han0110/zkevm-chain/internal/reconciler"
	"github.com/han0110/zkevm-chain/internal/schedule"
	"github.com/han0110/zkevm-chain/internal/store/postgres"
	"github.com/han0110/zkevm-chain/internal/transport/channel"
	"github.com/han0110/zkevm-chain/internal/waker"
	"github.com/han0110/zkevm-chain/internal/workspace"

	_ "github.com/lib/pq"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitRuntimeError)
	}

	cmd := os.Args[1]

	switch cmd {
	case "serve":
		os.Exit(runServe())
	case "validate":
		os.Exit(runValidate())
	case "config":
		os.Exit(runConfig())
	case "version":
		os.Exit(runVersion())
	case "--help", "-h", "help":
		printUsage()
		os.Exit(exitSuccess)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(exitRuntimeError)
	}
}

func printUsage() {
	fmt.Println(`autogen - gated verifier regeneration pipeline

Usage:
  autogen <command>

Commands:
  serve      Start the trigger surfaces and pipeline orchestrator
  validate   Validate configuration (no connections made)
  config     Print effective configuration as JSON (secrets masked)
  version    Print version information

Environment Variables:
  WORKSPACE_DIR             Checked-out repository tree (required)
  RUNNER_INSTANCE_ID        Cloud instance hosting the build runtime (required)
  WEBHOOK_SECRET            HMAC secret for incoming webhooks (required)

  DATABASE_URL              PostgreSQL connection string for run history (optional)
  REDIS_ADDR                Redis address for analytics counters (optional)
  HTTP_ADDR                 HTTP server address (default: ":8080")

  IMAGE_TAG                 Toolchain image tag (default: "zkevm-chain-autogen:latest")
  ONLY_EVM                  Restrict super-circuit verifier to EVM target (default: "true")
  NAMESPACE                 Label namespace for runtime cleanup (default: "autogen")
  REPO_CONFIG_FILE          In-repo overlay file (default: "autogen.yml")

  AWS_ACCESS_KEY_ID         Control-plane credentials (all three or none)
  AWS_SECRET_ACCESS_KEY
  AWS_REGION
  WAKE_TIMEOUT              Runner wake deadline (default: "10m")
  WAKE_POLL_INTERVAL        Runner state poll interval (default: "15s")

  GIT_AUTHOR_NAME           Commit author (default: "autogen-bot")
  GIT_AUTHOR_EMAIL          Commit author email
  GIT_REMOTE                Push remote (default: "origin")
  GIT_REF                   Push ref (default: "refs/heads/main")
  GIT_PUSH                  Push after commit (default: "true")

  SCHEDULE_ENABLED          Enable the nightly schedule (default: "false")
  SCHEDULE_EXPRESSION       Cron expression (default: "0 3 * * *")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")

  RECONCILE_ENABLED         Enable orphaned-run reconciler (default: "false")
  RECONCILE_INTERVAL        How often to scan for orphans (default: "5m")
  RECONCILE_THRESHOLD       Age before a run is orphaned (default: "2h")
  RECONCILE_BATCH_SIZE      Max orphans per cycle (default: "100")

  EVENTBUS_BUFFER_SIZE      Trigger event buffer (default: "100")
  CIRCUIT_BREAKER_THRESHOLD Wake failures before the breaker opens, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  Breaker cooldown (default: "2m")

  LEADER_ELECTION_ENABLED   Enable Postgres advisory-lock election (default: "false")
  LEADER_LOCK_KEY           Advisory lock key (default: "728380")
  LEADER_RETRY_INTERVAL     Follower retry interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL Leader connection ping interval (default: "2s")

  HTTP_SHUTDOWN_TIMEOUT     Graceful HTTP shutdown timeout (default: "10s")
  DB_MAX_OPEN_CONNS         Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS         Max idle database connections (default: "5")`)
}

func runServe() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitInvalidConfig
	}

	// Connect to PostgreSQL if run history is configured.
	var db *sql.DB
	var st *postgres.Store
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
			return exitRuntimeError
		}
		defer db.Close()

		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)

		if err := db.Ping(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to connect to database: %v\n", err)
			return exitRuntimeError
		}
		st = postgres.New(db)
		log.Printf("autogen: run history enabled (max_open=%d, max_idle=%d)",
			cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	} else {
		log.Println("autogen: DATABASE_URL not set; run history disabled")
	}

	// Initialize metrics sink (optional)
	var metricsSink *metrics.PrometheusSink
	if cfg.MetricsEnabled {
		metricsSink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer)
		log.Printf("autogen: metrics enabled (path=%s)", cfg.MetricsPath)
	} else {
		log.Println("autogen: METRICS_ENABLED not set; metrics disabled")
	}

	// The in-repo overlay tunes stages but never changes the sequence.
	overlay, err := config.LoadOverlay(cfg.WorkspaceDir, cfg.RepoConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "overlay error: %v\n", err)
		return exitInvalidConfig
	}
	cfg = overlay.Apply(cfg)

	control, err := waker.NewEC2Control(context.Background(), waker.EC2Credentials{
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretKey,
		Region:          cfg.AWSRegion,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build cloud control: %v\n", err)
		return exitRuntimeError
	}

	wk := waker.New(waker.Config{
		InstanceID:   cfg.RunnerInstanceID,
		WakeTimeout:  cfg.WakeTimeout,
		PollInterval: cfg.WakePollInterval,
	}, control)
	if cfg.CircuitBreakerThreshold > 0 {
		wk = wk.WithBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		log.Printf("autogen: wake circuit breaker enabled (threshold=%d, cooldown=%s)",
			cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown)
	}

	pruner, err := workspace.NewDockerPruner(cfg.Namespace)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build runtime pruner: %v\n", err)
		return exitRuntimeError
	}
	cleaner := workspace.New(cfg.WorkspaceDir).WithPruner(pruner)
	if metricsSink != nil {
		cleaner = cleaner.WithMetrics(metricsSink)
	}

	eng, err := engine.NewDockerEngine(engine.Config{
		WorkspaceDir: cfg.WorkspaceDir,
		ImageTag:     cfg.ImageTag,
		EnvFile:      cfg.EnvFile,
		EnvTemplate:  cfg.EnvTemplate,
		Namespace:    cfg.Namespace,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build stage engine: %v\n", err)
		return exitRuntimeError
	}

	repo := gitrepo.New(gitrepo.Config{
		Dir:         cfg.WorkspaceDir,
		AuthorName:  cfg.GitAuthorName,
		AuthorEmail: cfg.GitAuthorEmail,
		Message:     cfg.CommitMessage,
		Push:        cfg.GitPush,
		Remote:      cfg.GitRemote,
		Ref:         cfg.GitRef,
	})

	stages := domain.GenerationStages(cfg.EVMOnly)
	for i := range stages {
		if extra := overlay.StageEnv[stages[i].Name]; len(extra) > 0 {
			stages[i].Env = append(stages[i].Env, extra...)
		}
	}

	runner := pipeline.NewRunner(pipeline.Config{EVMOnly: cfg.EVMOnly}, wk, cleaner, eng, repo).
		WithStages(stages)
	if st != nil {
		runner = runner.WithStore(st)
	}
	if metricsSink != nil {
		runner = runner.WithMetrics(metricsSink)
	}

	busOpts := []channel.Option{channel.WithEmitTimeout(5 * time.Second)}
	if metricsSink != nil {
		busOpts = append(busOpts, channel.WithMetrics(metricsSink))
	}
	bus := channel.NewEventBus(cfg.EventBusBufferSize, busOpts...)

	orch := orchestrator.New(
		orchestrator.Config{Workflow: cfg.WorkflowName},
		gate.New(),
		coordinator.New(),
		runner,
	)
	if st != nil {
		orch = orch.WithStore(st)
	}
	if metricsSink != nil {
		orch = orch.WithMetrics(metricsSink)
	}

	// Wire analytics if Redis is configured
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})
		sink := analytics.NewRedisSink(redisClient, analytics.DefaultConfig())
		orch = orch.WithAnalytics(sink)
		log.Printf("autogen: analytics enabled (redis=%s)", cfg.RedisAddr)
	} else {
		log.Println("autogen: REDIS_ADDR not set; analytics disabled")
	}

	apiHandler := api.NewHandler(bus, cfg.WebhookSecret)
	if st != nil {
		apiHandler = apiHandler.WithStore(st)
	}
	if db != nil {
		apiHandler = apiHandler.WithHealthChecker(db)
	}

	// Metrics share the main listener; there is no separate metrics port.
	var httpHandler http.Handler = apiHandler
	if metricsSink != nil {
		mux := http.NewServeMux()
		mux.Handle(cfg.MetricsPath, promhttp.Handler())
		mux.Handle("/", apiHandler)
		httpHandler = mux
	}

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpHandler,
	}

	go func() {
		log.Printf("autogen: http server listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("autogen: http server error: %v", err)
		}
	}()

	// The orchestrating duties run either directly or under leader
	// election; either way they stop in order: schedule first so no new
	// events are produced, then the reconciler, then the orchestrator
	// (which waits for in-flight runs to finish cleanup).
	runDuties := func(ctx context.Context) {
		schedCtx, cancelSched := context.WithCancel(context.Background())
		reconCtx, cancelRecon := context.WithCancel(context.Background())
		orchCtx, cancelOrch := context.WithCancel(context.Background())

		var schedWg, reconWg, orchWg sync.WaitGroup

		if cfg.ScheduleEnabled {
			sched := schedule.New(schedule.Config{
				Expression: cfg.ScheduleExpression,
				Ref:        cfg.GitRef,
			}, bus)
			schedWg.Add(1)
			go func() {
				defer schedWg.Done()
				if err := sched.Run(schedCtx); err != nil {
					log.Printf("autogen: schedule error: %v", err)
				}
			}()
			log.Printf("autogen: schedule enabled (expression=%q)", cfg.ScheduleExpression)
		}

		if cfg.ReconcileEnabled && st != nil {
			recon := reconciler.New(reconciler.Config{
				Interval:  cfg.ReconcileInterval,
				Threshold: cfg.ReconcileThreshold,
				BatchSize: cfg.ReconcileBatchSize,
			}, st)
			reconWg.Add(1)
			go func() {
				defer reconWg.Done()
				recon.Run(reconCtx)
			}()
			log.Printf("autogen: reconciler enabled (interval=%s, threshold=%s, batch=%d)",
				cfg.ReconcileInterval, cfg.ReconcileThreshold, cfg.ReconcileBatchSize)
		}

		orchWg.Add(1)
		go func() {
			defer orchWg.Done()
			orch.Run(orchCtx, bus.Channel())
		}()

		<-ctx.Done()

		log.Println("autogen: stopping schedule...")
		cancelSched()
		schedWg.Wait()

		log.Println("autogen: stopping reconciler...")
		cancelRecon()
		reconWg.Wait()

		log.Println("autogen: stopping orchestrator (waiting for in-flight runs)...")
		cancelOrch()
		orchWg.Wait()
		log.Println("autogen: orchestrator stopped")
	}

	rootCtx, cancelRoot := context.WithCancel(context.Background())

	var dutiesWg sync.WaitGroup
	startDuties := func(ctx context.Context) {
		dutiesWg.Add(1)
		go func() {
			defer dutiesWg.Done()
			runDuties(ctx)
		}()
	}

	var electorWg sync.WaitGroup
	if cfg.LeaderElectionEnabled {
		elector := leaderelection.New(
			db,
			cfg.LeaderLockKey,
			cfg.LeaderRetryInterval,
			cfg.LeaderHeartbeatInterval,
			startDuties,
			func() { dutiesWg.Wait() },
		)
		electorWg.Add(1)
		go func() {
			defer electorWg.Done()
			elector.Run(rootCtx)
		}()
		log.Printf("autogen: leader election enabled (lock_key=%d)", cfg.LeaderLockKey)
	} else {
		startDuties(rootCtx)
	}

	log.Printf("autogen: started (workflow=%s, workspace=%s, http=%s)",
		cfg.WorkflowName, cfg.WorkspaceDir, cfg.HTTPAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig

	log.Printf("autogen: received signal %v, shutting down", received)

	// Phase 1: stop orchestrating duties (ordered internally; blocks
	// until in-flight runs have finished cleanup).
	cancelRoot()
	electorWg.Wait()
	dutiesWg.Wait()

	// Phase 2: stop HTTP server with graceful shutdown.
	log.Println("autogen: stopping http server...")
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Printf("autogen: http server shutdown error: %v", err)
	}
	log.Println("autogen: http server stopped")

	log.Println("autogen: stopped")
	return exitSuccess
}

func runValidate() int {
	cfg := config.Load()

	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidConfig
	}

	fmt.Println("configuration valid")
	return exitSuccess
}

func runConfig() int {
	cfg := config.Load()

	data, err := cfg.MaskedJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to marshal config: %v\n", err)
		return exitRuntimeError
	}

	fmt.Println(string(data))
	return exitSuccess
}

func runVersion() int {
	fmt.Printf("autogen version %s (commit: %s)\n", version, commit)
	return exitSuccess
}
