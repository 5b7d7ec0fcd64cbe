package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Store        StoreConfig
	DB           DBConfig
	JWT          JWTConfig
	S3           S3Config
	Log          LogConfig
	Backends     BackendsConfig
	Evaluator    BackendConfig
	Classifier   ClassifierConfig
	Coaching     CoachingConfig
	Orchestrator OrchestratorConfig
	Gate         GateConfig
	Receipts     ReceiptsConfig
	Agents       AgentsConfig
	CORS         CORSConfig
	Queue        QueueConfig
	Notify       NotifyConfig
}

// QueueConfig holds run queue worker settings.
type QueueConfig struct {
	PollIntervalSecs int `mapstructure:"poll_interval_secs"`
	MaxRetries       int `mapstructure:"max_retries"`
	Concurrency      int `mapstructure:"concurrency"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// BackendConfig holds settings for a single model backend.
type BackendConfig struct {
	Provider          string `mapstructure:"provider"`
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	BaseURL           string `mapstructure:"base_url"`
	TimeoutSecs       int    `mapstructure:"timeout_secs"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	// Local marks a backend bound to a single accelerator; calls to it are serialized.
	Local bool `mapstructure:"local"`
}

// Configured reports whether a provider was named for this slot.
func (b *BackendConfig) Configured() bool {
	return b.Provider != ""
}

// BackendsConfig holds the ordered extraction backends. Secondary and tertiary are optional
// fallbacks tried when the primary fails.
type BackendsConfig struct {
	Primary   BackendConfig `mapstructure:"primary"`
	Secondary BackendConfig `mapstructure:"secondary"`
	Tertiary  BackendConfig `mapstructure:"tertiary"`
}

// Ordered returns the configured backends in fallback order.
func (b *BackendsConfig) Ordered() []*BackendConfig {
	var out []*BackendConfig
	for _, c := range []*BackendConfig{&b.Primary, &b.Secondary, &b.Tertiary} {
		if c.Configured() {
			out = append(out, c)
		}
	}
	return out
}

// ClassifierConfig selects the page classification strategy.
type ClassifierConfig struct {
	Strategy      string  `mapstructure:"strategy"`
	DPI           int     `mapstructure:"dpi"`
	MinConfidence float64 `mapstructure:"min_confidence"`
}

// CoachingConfig bounds the extract/evaluate/refine loop.
type CoachingConfig struct {
	MaxRounds      int     `mapstructure:"max_rounds"`
	TargetAccuracy float64 `mapstructure:"target_accuracy"`
	MinUseful      float64 `mapstructure:"min_useful_accuracy"`
	DPI            int     `mapstructure:"dpi"`
}

// OrchestratorConfig bounds task dispatch.
type OrchestratorConfig struct {
	MaxParallelAgents int      `mapstructure:"max_parallel_agents"`
	CallTimeoutSecs   int      `mapstructure:"call_timeout_secs"`
	AgentPriority     []string `mapstructure:"agent_priority"`
}

// CallTimeout is the hard timeout applied to every backend call.
func (o *OrchestratorConfig) CallTimeout() time.Duration {
	return time.Duration(o.CallTimeoutSecs) * time.Second
}

// GateConfig holds default acceptance tolerances.
type GateConfig struct {
	RelTolerance float64 `mapstructure:"rel_tolerance"`
	AbsTolerance float64 `mapstructure:"abs_tolerance"`
}

// ReceiptsConfig holds the receipt signing secret.
type ReceiptsConfig struct {
	SigningSecret string `mapstructure:"signing_secret"`
}

// AgentsConfig points at the agent registry document.
type AgentsConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Environment  string        `mapstructure:"environment"`
}

// StoreConfig selects the SQL engine.
type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxOpen  int    `mapstructure:"max_open"`
	MaxIdle  int    `mapstructure:"max_idle"`
}

// DSN returns the PostgreSQL connection string.
func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// JWTConfig holds API token verification settings.
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// S3Config holds AWS S3 settings.
type S3Config struct {
	Region    string `mapstructure:"region"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// NotifyConfig holds failed-run notification settings.
type NotifyConfig struct {
	Provider     string   `mapstructure:"provider"` // "noop" or "ses"
	Region       string   `mapstructure:"region"`
	FromAddress  string   `mapstructure:"from_address"`
	FromName     string   `mapstructure:"from_name"`
	Recipients   []string `mapstructure:"recipients"`
	DashboardURL string   `mapstructure:"dashboard_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var backendSlots = []string{"backends.primary", "backends.secondary", "backends.tertiary", "evaluator"}

// Load reads configuration from environment variables with the FINREP_ prefix.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FINREP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.environment", "development")

	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "finrep.db")

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "finrep")
	v.SetDefault("db.password", "finrep_secret")
	v.SetDefault("db.name", "finrep_db")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open", 25)
	v.SetDefault("db.max_idle", 10)

	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.issuer", "finrep")

	v.SetDefault("s3.region", "eu-north-1")
	v.SetDefault("s3.bucket", "finrep-documents")
	v.SetDefault("s3.endpoint", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("cors.allowed_origins", "http://localhost:3000,http://127.0.0.1:3000")

	v.SetDefault("queue.poll_interval_secs", 10)
	v.SetDefault("queue.max_retries", 3)
	v.SetDefault("queue.concurrency", 2)

	v.SetDefault("backends.primary.provider", "claude")
	v.SetDefault("backends.primary.model", "claude-sonnet-4-20250514")
	for _, slot := range backendSlots {
		v.SetDefault(slot+".timeout_secs", 120)
		v.SetDefault(slot+".requests_per_minute", 0)
		v.SetDefault(slot+".local", false)
	}
	v.SetDefault("evaluator.provider", "claude")

	v.SetDefault("classifier.strategy", "keyword")
	v.SetDefault("classifier.dpi", 100)
	v.SetDefault("classifier.min_confidence", 0.5)

	v.SetDefault("coaching.max_rounds", 3)
	v.SetDefault("coaching.target_accuracy", 0.85)
	v.SetDefault("coaching.min_useful_accuracy", 0.70)
	v.SetDefault("coaching.dpi", 150)

	v.SetDefault("orchestrator.max_parallel_agents", 4)
	v.SetDefault("orchestrator.call_timeout_secs", 120)
	v.SetDefault("orchestrator.agent_priority", "")

	v.SetDefault("gate.rel_tolerance", 0.01)
	v.SetDefault("gate.abs_tolerance", 1000)

	v.SetDefault("receipts.signing_secret", "")
	v.SetDefault("agents.path", "configs/agents.yaml")

	v.SetDefault("notify.provider", "noop")
	v.SetDefault("notify.region", "eu-north-1")
	v.SetDefault("notify.from_name", "finrep")

	// Bind environment variables explicitly for nested keys
	envBindings := map[string]string{
		"server.port":                      "FINREP_SERVER_PORT",
		"server.read_timeout":              "FINREP_SERVER_READ_TIMEOUT",
		"server.write_timeout":             "FINREP_SERVER_WRITE_TIMEOUT",
		"server.environment":               "FINREP_SERVER_ENVIRONMENT",
		"store.driver":                     "FINREP_STORE_DRIVER",
		"store.sqlite_path":                "FINREP_STORE_SQLITE_PATH",
		"db.host":                          "FINREP_DB_HOST",
		"db.port":                          "FINREP_DB_PORT",
		"db.user":                          "FINREP_DB_USER",
		"db.password":                      "FINREP_DB_PASSWORD",
		"db.name":                          "FINREP_DB_NAME",
		"db.sslmode":                       "FINREP_DB_SSLMODE",
		"db.max_open":                      "FINREP_DB_MAX_OPEN",
		"db.max_idle":                      "FINREP_DB_MAX_IDLE",
		"jwt.secret":                       "FINREP_JWT_SECRET",
		"jwt.issuer":                       "FINREP_JWT_ISSUER",
		"s3.region":                        "FINREP_S3_REGION",
		"s3.bucket":                        "FINREP_S3_BUCKET",
		"s3.endpoint":                      "FINREP_S3_ENDPOINT",
		"s3.access_key":                    "FINREP_S3_ACCESS_KEY",
		"s3.secret_key":                    "FINREP_S3_SECRET_KEY",
		"log.level":                        "FINREP_LOG_LEVEL",
		"log.format":                       "FINREP_LOG_FORMAT",
		"cors.allowed_origins":             "FINREP_CORS_ALLOWED_ORIGINS",
		"queue.poll_interval_secs":         "FINREP_QUEUE_POLL_INTERVAL_SECS",
		"queue.max_retries":                "FINREP_QUEUE_MAX_RETRIES",
		"queue.concurrency":                "FINREP_QUEUE_CONCURRENCY",
		"classifier.strategy":              "FINREP_CLASSIFIER_STRATEGY",
		"classifier.dpi":                   "FINREP_CLASSIFIER_DPI",
		"classifier.min_confidence":        "FINREP_CLASSIFIER_MIN_CONFIDENCE",
		"coaching.max_rounds":              "FINREP_COACHING_MAX_ROUNDS",
		"coaching.target_accuracy":         "FINREP_COACHING_TARGET_ACCURACY",
		"coaching.min_useful_accuracy":     "FINREP_COACHING_MIN_USEFUL_ACCURACY",
		"coaching.dpi":                     "FINREP_COACHING_DPI",
		"orchestrator.max_parallel_agents": "FINREP_ORCHESTRATOR_MAX_PARALLEL_AGENTS",
		"orchestrator.call_timeout_secs":   "FINREP_ORCHESTRATOR_CALL_TIMEOUT_SECS",
		"orchestrator.agent_priority":      "FINREP_ORCHESTRATOR_AGENT_PRIORITY",
		"gate.rel_tolerance":               "FINREP_GATE_REL_TOLERANCE",
		"gate.abs_tolerance":               "FINREP_GATE_ABS_TOLERANCE",
		"receipts.signing_secret":          "FINREP_RECEIPTS_SIGNING_SECRET",
		"agents.path":                      "FINREP_AGENTS_PATH",
		"notify.provider":                  "FINREP_NOTIFY_PROVIDER",
		"notify.region":                    "FINREP_NOTIFY_REGION",
		"notify.from_address":              "FINREP_NOTIFY_FROM_ADDRESS",
		"notify.from_name":                 "FINREP_NOTIFY_FROM_NAME",
		"notify.recipients":                "FINREP_NOTIFY_RECIPIENTS",
		"notify.dashboard_url":             "FINREP_NOTIFY_DASHBOARD_URL",
	}
	for _, slot := range backendSlots {
		for _, field := range []string{"provider", "api_key", "model", "base_url", "timeout_secs", "requests_per_minute", "local"} {
			key := slot + "." + field
			envBindings[key] = "FINREP_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		}
	}
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	cfg := &Config{}

	// Platforms that inject PORT win unless FINREP_SERVER_PORT is set explicitly.
	serverPort := v.GetString("server.port")
	if port := os.Getenv("PORT"); port != "" && os.Getenv("FINREP_SERVER_PORT") == "" {
		serverPort = ":" + port
	}

	cfg.Server = ServerConfig{
		Port:         serverPort,
		ReadTimeout:  v.GetDuration("server.read_timeout"),
		WriteTimeout: v.GetDuration("server.write_timeout"),
		Environment:  v.GetString("server.environment"),
	}
	cfg.Store = StoreConfig{
		Driver:     v.GetString("store.driver"),
		SQLitePath: v.GetString("store.sqlite_path"),
	}
	cfg.DB = DBConfig{
		Host:     v.GetString("db.host"),
		Port:     v.GetInt("db.port"),
		User:     v.GetString("db.user"),
		Password: v.GetString("db.password"),
		Name:     v.GetString("db.name"),
		SSLMode:  v.GetString("db.sslmode"),
		MaxOpen:  v.GetInt("db.max_open"),
		MaxIdle:  v.GetInt("db.max_idle"),
	}
	cfg.JWT = JWTConfig{
		Secret: v.GetString("jwt.secret"),
		Issuer: v.GetString("jwt.issuer"),
	}
	cfg.S3 = S3Config{
		Region:    v.GetString("s3.region"),
		Bucket:    v.GetString("s3.bucket"),
		Endpoint:  v.GetString("s3.endpoint"),
		AccessKey: v.GetString("s3.access_key"),
		SecretKey: v.GetString("s3.secret_key"),
	}
	cfg.Log = LogConfig{
		Level:  v.GetString("log.level"),
		Format: v.GetString("log.format"),
	}
	cfg.CORS = CORSConfig{AllowedOrigins: splitList(v.GetString("cors.allowed_origins"))}
	cfg.Queue = QueueConfig{
		PollIntervalSecs: v.GetInt("queue.poll_interval_secs"),
		MaxRetries:       v.GetInt("queue.max_retries"),
		Concurrency:      v.GetInt("queue.concurrency"),
	}

	cfg.Backends = BackendsConfig{
		Primary:   readBackend(v, "backends.primary"),
		Secondary: readBackend(v, "backends.secondary"),
		Tertiary:  readBackend(v, "backends.tertiary"),
	}
	cfg.Evaluator = readBackend(v, "evaluator")

	cfg.Classifier = ClassifierConfig{
		Strategy:      v.GetString("classifier.strategy"),
		DPI:           v.GetInt("classifier.dpi"),
		MinConfidence: v.GetFloat64("classifier.min_confidence"),
	}
	cfg.Coaching = CoachingConfig{
		MaxRounds:      v.GetInt("coaching.max_rounds"),
		TargetAccuracy: v.GetFloat64("coaching.target_accuracy"),
		MinUseful:      v.GetFloat64("coaching.min_useful_accuracy"),
		DPI:            v.GetInt("coaching.dpi"),
	}
	cfg.Orchestrator = OrchestratorConfig{
		MaxParallelAgents: v.GetInt("orchestrator.max_parallel_agents"),
		CallTimeoutSecs:   v.GetInt("orchestrator.call_timeout_secs"),
		AgentPriority:     splitList(v.GetString("orchestrator.agent_priority")),
	}
	cfg.Gate = GateConfig{
		RelTolerance: v.GetFloat64("gate.rel_tolerance"),
		AbsTolerance: v.GetFloat64("gate.abs_tolerance"),
	}
	cfg.Receipts = ReceiptsConfig{SigningSecret: v.GetString("receipts.signing_secret")}
	cfg.Agents = AgentsConfig{Path: v.GetString("agents.path")}
	cfg.Notify = NotifyConfig{
		Provider:     v.GetString("notify.provider"),
		Region:       v.GetString("notify.region"),
		FromAddress:  v.GetString("notify.from_address"),
		FromName:     v.GetString("notify.from_name"),
		Recipients:   splitList(v.GetString("notify.recipients")),
		DashboardURL: v.GetString("notify.dashboard_url"),
	}

	return cfg, nil
}

func readBackend(v *viper.Viper, slot string) BackendConfig {
	return BackendConfig{
		Provider:          v.GetString(slot + ".provider"),
		APIKey:            v.GetString(slot + ".api_key"),
		Model:             v.GetString(slot + ".model"),
		BaseURL:           v.GetString(slot + ".base_url"),
		TimeoutSecs:       v.GetInt(slot + ".timeout_secs"),
		RequestsPerMinute: v.GetInt(slot + ".requests_per_minute"),
		Local:             v.GetBool(slot + ".local"),
	}
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
