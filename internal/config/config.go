package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/ortsistemas48/svt-backend/internal/models"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	FirstAttemptAuto  = "auto"
	FirstAttemptQueue = "queue"
	FirstAttemptEmit  = "emit"
)

// Config holds application configuration values sourced from the environment,
// an optional .env file and an optional config.yaml.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	RabbitMQ   RabbitMQConfig   `mapstructure:"rabbitmq"`
	Log        LogConfig        `mapstructure:"log"`
	Allocation AllocationConfig `mapstructure:"allocation"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Inspection InspectionConfig `mapstructure:"inspection"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	CORS       CORSConfig       `mapstructure:"cors"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	LogLevel     string `mapstructure:"log_level"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	StatusTTL time.Duration `mapstructure:"status_ttl"`
}

type RabbitMQConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AllocationConfig struct {
	// MaxAttempts bounds claim attempts per auto-assign; 0 means one attempt
	// per candidate in the available list.
	MaxAttempts int `mapstructure:"max_attempts"`
	PageSize    int `mapstructure:"page_size"`
}

type WorkflowConfig struct {
	FirstAttemptTarget string `mapstructure:"first_attempt_target"`
}

// InspectionConfig holds the default checklist and per-workshop overrides.
// Override keys are lowercased by the loader, so workshop ids match without
// regard to case.
type InspectionConfig struct {
	Steps     []models.StepDefinition             `mapstructure:"steps"`
	Workshops map[string]WorkshopInspectionConfig `mapstructure:"workshops"`
}

type WorkshopInspectionConfig struct {
	Steps []models.StepDefinition `mapstructure:"steps"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DefaultSteps is the checklist used when no step configuration is provided.
var DefaultSteps = []models.StepDefinition{
	{StepID: "identificacion", Order: 1},
	{StepID: "luces", Order: 2},
	{StepID: "frenos", Order: 3},
	{StepID: "direccion", Order: 4},
	{StepID: "suspension", Order: 5},
	{StepID: "neumaticos", Order: 6},
	{StepID: "emisiones", Order: 7},
	{StepID: "chasis", Order: 8},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("database.url", "postgres://svt:svt@db:5432/svt?sslmode=disable")
	v.SetDefault("database.log_level", "silent")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.status_ttl", 24*time.Hour)
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "svt.events")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("allocation.max_attempts", 0)
	v.SetDefault("allocation.page_size", 50)
	v.SetDefault("workflow.first_attempt_target", FirstAttemptAuto)
	v.SetDefault("ratelimit.rps", 20.0)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("cors.allowed_origins", []string{"*"})
}

// Load reads .env (if present), config.yaml (if present) and the environment.
// Environment keys are the upper-cased config paths with dots replaced by
// underscores, e.g. DATABASE_URL or WORKFLOW_FIRST_ATTEMPT_TARGET.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, errors.Wrap(err, "read config file")
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}
	if len(cfg.Inspection.Steps) == 0 {
		cfg.Inspection.Steps = DefaultSteps
	}
	return cfg, cfg.Validate()
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Workflow.FirstAttemptTarget {
	case FirstAttemptAuto, FirstAttemptQueue, FirstAttemptEmit:
	default:
		return errors.Errorf("unknown workflow.first_attempt_target %q", c.Workflow.FirstAttemptTarget)
	}
	if c.Allocation.MaxAttempts < 0 {
		return errors.New("allocation.max_attempts must not be negative")
	}
	if err := validateSteps("inspection.steps", c.Inspection.Steps); err != nil {
		return err
	}
	for id, w := range c.Inspection.Workshops {
		if err := validateSteps("inspection.workshops."+id+".steps", w.Steps); err != nil {
			return err
		}
	}
	return nil
}

func validateSteps(path string, steps []models.StepDefinition) error {
	seen := make(map[string]bool, len(steps))
	for _, s := range steps {
		if s.StepID == "" {
			return errors.Errorf("%s: step with empty step_id", path)
		}
		if seen[s.StepID] {
			return errors.Errorf("%s: duplicate step %q", path, s.StepID)
		}
		seen[s.StepID] = true
	}
	return nil
}
