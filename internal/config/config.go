package config

import (
	"encoding/json"
	"log"
	"os"
	"time"
)

// Config holds all configuration for the autogen service.
// Values are loaded from environment variables.
type Config struct {
	DatabaseURL string `json:"database_url,omitempty"`
	RedisAddr   string `json:"redis_addr,omitempty"`
	HTTPAddr    string `json:"http_addr"`

	// WebhookSecret authenticates incoming source-control webhooks.
	WebhookSecret string `json:"webhook_secret"`

	WorkflowName string `json:"workflow_name"`
	WorkspaceDir string `json:"workspace_dir"`

	ImageTag    string `json:"image_tag"`
	EnvFile     string `json:"env_file"`
	EnvTemplate string `json:"env_template"`
	Namespace   string `json:"namespace"`
	EVMOnly     bool   `json:"evm_only"`

	// RepoConfigFile is an optional overlay file inside the workspace.
	RepoConfigFile string `json:"repo_config_file"`

	// RunnerInstanceID is the cloud instance hosting the build runtime.
	RunnerInstanceID string `json:"runner_instance_id"`
	AWSAccessKeyID   string `json:"aws_access_key_id"`
	AWSSecretKey     string `json:"aws_secret_access_key"`
	AWSRegion        string `json:"aws_region"`

	WakeTimeout         time.Duration `json:"-"`
	WakeTimeoutStr      string        `json:"wake_timeout"`
	WakePollInterval    time.Duration `json:"-"`
	WakePollIntervalStr string        `json:"wake_poll_interval"`

	GitAuthorName  string `json:"git_author_name"`
	GitAuthorEmail string `json:"git_author_email"`
	GitRemote      string `json:"git_remote"`
	GitRef         string `json:"git_ref"`
	GitPush        bool   `json:"git_push"`
	CommitMessage  string `json:"commit_message,omitempty"`

	ScheduleEnabled    bool   `json:"schedule_enabled"`
	ScheduleExpression string `json:"schedule_expression"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must comfortably exceed the longest plausible run.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`
	EventBusBufferSize int `json:"eventbus_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderElectionEnabled bool  `json:"leader_election_enabled"`
	LeaderLockKey         int64 `json:"leader_lock_key"`

	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`
	DBMaxOpenConns int           `json:"db_max_open_conns"`
	DBMaxIdleConns int           `json:"db_max_idle_conns"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		HTTPAddr:              os.Getenv("HTTP_ADDR"),
		WebhookSecret:         os.Getenv("WEBHOOK_SECRET"),
		WorkflowName:          os.Getenv("WORKFLOW_NAME"),
		WorkspaceDir:          os.Getenv("WORKSPACE_DIR"),
		ImageTag:              os.Getenv("IMAGE_TAG"),
		EnvFile:               os.Getenv("ENV_FILE"),
		EnvTemplate:           os.Getenv("ENV_TEMPLATE"),
		Namespace:             os.Getenv("NAMESPACE"),
		EVMOnly:               os.Getenv("ONLY_EVM") != "false",
		RepoConfigFile:        os.Getenv("REPO_CONFIG_FILE"),
		RunnerInstanceID:      os.Getenv("RUNNER_INSTANCE_ID"),
		AWSAccessKeyID:        os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretKey:          os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSRegion:             os.Getenv("AWS_REGION"),
		WakeTimeoutStr:        os.Getenv("WAKE_TIMEOUT"),
		WakePollIntervalStr:   os.Getenv("WAKE_POLL_INTERVAL"),
		GitAuthorName:         os.Getenv("GIT_AUTHOR_NAME"),
		GitAuthorEmail:        os.Getenv("GIT_AUTHOR_EMAIL"),
		GitRemote:             os.Getenv("GIT_REMOTE"),
		GitRef:                os.Getenv("GIT_REF"),
		GitPush:               os.Getenv("GIT_PUSH") != "false",
		CommitMessage:         os.Getenv("COMMIT_MESSAGE"),
		ScheduleEnabled:       os.Getenv("SCHEDULE_ENABLED") == "true",
		ScheduleExpression:    os.Getenv("SCHEDULE_EXPRESSION"),
		MetricsEnabled:        os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:           os.Getenv("METRICS_PATH"),
		ReconcileEnabled:      os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:  os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr: os.Getenv("RECONCILE_THRESHOLD"),
		LeaderElectionEnabled: os.Getenv("LEADER_ELECTION_ENABLED") == "true",
	}

	if batchStr := os.Getenv("RECONCILE_BATCH_SIZE"); batchStr != "" {
		if batch, err := parseInt(batchStr); err == nil && batch > 0 {
			cfg.ReconcileBatchSize = batch
		}
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = 100
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := parseInt(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 100", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 100
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := parseInt(cbThreshStr); err == nil {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			log.Printf("config: invalid LEADER_LOCK_KEY %q (must be a positive integer), using default 728380", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = 728380
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	cfg.CircuitBreakerCooldownStr = os.Getenv("CIRCUIT_BREAKER_COOLDOWN")
	cfg.LeaderRetryIntervalStr = os.Getenv("LEADER_RETRY_INTERVAL")
	cfg.LeaderHeartbeatIntervalStr = os.Getenv("LEADER_HEARTBEAT_INTERVAL")
	cfg.HTTPShutdownTimeoutStr = os.Getenv("HTTP_SHUTDOWN_TIMEOUT")
	cfg.DBOpTimeoutStr = os.Getenv("DB_OP_TIMEOUT")

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.WorkflowName == "" {
		cfg.WorkflowName = "autogen"
	}
	if cfg.ImageTag == "" {
		cfg.ImageTag = "zkevm-chain-autogen:latest"
	}
	if cfg.EnvFile == "" {
		cfg.EnvFile = ".env"
	}
	if cfg.EnvTemplate == "" {
		cfg.EnvTemplate = ".env.example"
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "autogen"
	}
	if cfg.RepoConfigFile == "" {
		cfg.RepoConfigFile = "autogen.yml"
	}
	if cfg.WakeTimeoutStr == "" {
		cfg.WakeTimeoutStr = "10m"
	}
	if cfg.WakePollIntervalStr == "" {
		cfg.WakePollIntervalStr = "15s"
	}
	if cfg.GitAuthorName == "" {
		cfg.GitAuthorName = "autogen-bot"
	}
	if cfg.GitAuthorEmail == "" {
		cfg.GitAuthorEmail = "autogen-bot@users.noreply.github.com"
	}
	if cfg.GitRemote == "" {
		cfg.GitRemote = "origin"
	}
	if cfg.GitRef == "" {
		cfg.GitRef = "refs/heads/main"
	}
	if cfg.ScheduleExpression == "" {
		cfg.ScheduleExpression = "0 3 * * *"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "2h"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.WakeTimeoutStr); err == nil {
		cfg.WakeTimeout = d
	}
	if d, err := time.ParseDuration(cfg.WakePollIntervalStr); err == nil {
		cfg.WakePollInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.LeaderRetryIntervalStr); err == nil {
		cfg.LeaderRetryInterval = d
	}
	if d, err := time.ParseDuration(cfg.LeaderHeartbeatIntervalStr); err == nil {
		cfg.LeaderHeartbeatInterval = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}

	return cfg
}

// parseInt parses a string as an integer.
func parseInt(s string) (int, error) {
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		DatabaseURL             string `json:"database_url,omitempty"`
		RedisAddr               string `json:"redis_addr,omitempty"`
		HTTPAddr                string `json:"http_addr"`
		WebhookSecret           string `json:"webhook_secret"`
		WorkflowName            string `json:"workflow_name"`
		WorkspaceDir            string `json:"workspace_dir"`
		ImageTag                string `json:"image_tag"`
		EnvFile                 string `json:"env_file"`
		EnvTemplate             string `json:"env_template"`
		Namespace               string `json:"namespace"`
		EVMOnly                 bool   `json:"evm_only"`
		RepoConfigFile          string `json:"repo_config_file"`
		RunnerInstanceID        string `json:"runner_instance_id"`
		AWSAccessKeyID          string `json:"aws_access_key_id"`
		AWSSecretKey            string `json:"aws_secret_access_key"`
		AWSRegion               string `json:"aws_region"`
		WakeTimeout             string `json:"wake_timeout"`
		WakePollInterval        string `json:"wake_poll_interval"`
		GitAuthorName           string `json:"git_author_name"`
		GitAuthorEmail          string `json:"git_author_email"`
		GitRemote               string `json:"git_remote"`
		GitRef                  string `json:"git_ref"`
		GitPush                 bool   `json:"git_push"`
		ScheduleEnabled         bool   `json:"schedule_enabled"`
		ScheduleExpression      string `json:"schedule_expression"`
		MetricsEnabled          bool   `json:"metrics_enabled"`
		MetricsPath             string `json:"metrics_path"`
		ReconcileEnabled        bool   `json:"reconcile_enabled"`
		ReconcileInterval       string `json:"reconcile_interval"`
		ReconcileThreshold      string `json:"reconcile_threshold"`
		ReconcileBatchSize      int    `json:"reconcile_batch_size"`
		EventBusBufferSize      int    `json:"eventbus_buffer_size"`
		CircuitBreakerThreshold int    `json:"circuit_breaker_threshold"`
		CircuitBreakerCooldown  string `json:"circuit_breaker_cooldown"`
		LeaderElectionEnabled   bool   `json:"leader_election_enabled"`
		LeaderLockKey           int64  `json:"leader_lock_key"`
		LeaderRetryInterval     string `json:"leader_retry_interval"`
		LeaderHeartbeatInterval string `json:"leader_heartbeat_interval"`
		HTTPShutdownTimeout     string `json:"http_shutdown_timeout"`
		DBOpTimeout             string `json:"db_op_timeout"`
		DBMaxOpenConns          int    `json:"db_max_open_conns"`
		DBMaxIdleConns          int    `json:"db_max_idle_conns"`
	}{
		DatabaseURL:             maskSecret(c.DatabaseURL),
		RedisAddr:               c.RedisAddr,
		HTTPAddr:                c.HTTPAddr,
		WebhookSecret:           maskSecret(c.WebhookSecret),
		WorkflowName:            c.WorkflowName,
		WorkspaceDir:            c.WorkspaceDir,
		ImageTag:                c.ImageTag,
		EnvFile:                 c.EnvFile,
		EnvTemplate:             c.EnvTemplate,
		Namespace:               c.Namespace,
		EVMOnly:                 c.EVMOnly,
		RepoConfigFile:          c.RepoConfigFile,
		RunnerInstanceID:        c.RunnerInstanceID,
		AWSAccessKeyID:          maskSecret(c.AWSAccessKeyID),
		AWSSecretKey:            maskSecret(c.AWSSecretKey),
		AWSRegion:               c.AWSRegion,
		WakeTimeout:             c.WakeTimeoutStr,
		WakePollInterval:        c.WakePollIntervalStr,
		GitAuthorName:           c.GitAuthorName,
		GitAuthorEmail:          c.GitAuthorEmail,
		GitRemote:               c.GitRemote,
		GitRef:                  c.GitRef,
		GitPush:                 c.GitPush,
		ScheduleEnabled:         c.ScheduleEnabled,
		ScheduleExpression:      c.ScheduleExpression,
		MetricsEnabled:          c.MetricsEnabled,
		MetricsPath:             c.MetricsPath,
		ReconcileEnabled:        c.ReconcileEnabled,
		ReconcileInterval:       c.ReconcileIntervalStr,
		ReconcileThreshold:      c.ReconcileThresholdStr,
		ReconcileBatchSize:      c.ReconcileBatchSize,
		EventBusBufferSize:      c.EventBusBufferSize,
		CircuitBreakerThreshold: c.CircuitBreakerThreshold,
		CircuitBreakerCooldown:  c.CircuitBreakerCooldownStr,
		LeaderElectionEnabled:   c.LeaderElectionEnabled,
		LeaderLockKey:           c.LeaderLockKey,
		LeaderRetryInterval:     c.LeaderRetryIntervalStr,
		LeaderHeartbeatInterval: c.LeaderHeartbeatIntervalStr,
		HTTPShutdownTimeout:     c.HTTPShutdownTimeoutStr,
		DBOpTimeout:             c.DBOpTimeoutStr,
		DBMaxOpenConns:          c.DBMaxOpenConns,
		DBMaxIdleConns:          c.DBMaxIdleConns,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
