package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/earthring/terrain/internal/noise"
)

// Config holds all configuration for the terrain server
type Config struct {
	Server     ServerConfig
	Terrain    TerrainConfig
	Generation GenerationConfig
	Auth       AuthConfig
	Database   DatabaseConfig
	Logging    LoggingConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host         string
	Port         string `validate:"required,numeric"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Environment  string `validate:"oneof=development staging production test"`
	// RateLimit uses the limiter format, e.g. "120-M" for 120 requests per minute.
	RateLimit string `validate:"required"`
	// AllowedOrigins lists browser origins accepted by CORS and the mesh stream.
	AllowedOrigins []string
}

// TerrainConfig describes the terrain every chunk is generated from. It can
// be overridden by a YAML profile.
type TerrainConfig struct {
	ChunkSize     float64      `yaml:"chunk_size" validate:"gt=0"`
	Amplitude     float64      `yaml:"amplitude" validate:"gte=0"`
	Layout        string       `yaml:"layout" validate:"oneof=quad_split skirt"`
	InitialDetail int          `yaml:"initial_detail" validate:"min=0,max=10"`
	InitialRadius int          `yaml:"initial_radius" validate:"min=0,max=16"`
	OffsetPolicy  string       `yaml:"offset_policy" validate:"oneof=ring none"`
	Collision     bool         `yaml:"collision"`
	Noise         noise.Config `yaml:"noise"`
}

// GenerationConfig sizes the generation worker pool
type GenerationConfig struct {
	Workers   int  `validate:"min=1,max=256"`
	QueueSize int  `validate:"min=1"`
	Profile   bool // record per-stage pipeline timings
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret     string `validate:"required"`
	JWTExpiration time.Duration
	Issuer        string
}

// DatabaseConfig holds database connection configuration. The generation
// ledger is optional; nothing else needs a database.
type DatabaseConfig struct {
	Enabled         bool
	Host            string
	Port            int
	User            string
	Password        string `validate:"required_if=Enabled true"`
	Database        string
	SSLMode         string
	MaxConnections  int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `validate:"oneof=debug info warn error"`
}

var validate = validator.New()

var defaultAllowedOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
	"http://127.0.0.1:3000",
	"http://127.0.0.1:5173",
}

// Load reads configuration from environment variables and .env file
// It returns a Config struct with all settings populated
// The .env file is loaded from the current working directory
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found (this is OK if using environment variables): %v", err)
	}

	defaults := noise.DefaultConfig()
	config := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnv("SERVER_PORT", "8080"),
			ReadTimeout:    getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getDurationEnv("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:    getEnv("ENVIRONMENT", "development"),
			RateLimit:      getEnv("SERVER_RATE_LIMIT", "120-M"),
			AllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		},
		Terrain: TerrainConfig{
			ChunkSize:     getFloatEnv("TERRAIN_CHUNK_SIZE", 100),
			Amplitude:     getFloatEnv("TERRAIN_AMPLITUDE", 80),
			Layout:        getEnv("TERRAIN_LAYOUT", "quad_split"),
			InitialDetail: getIntEnv("TERRAIN_INITIAL_DETAIL", 3),
			InitialRadius: getIntEnv("TERRAIN_INITIAL_RADIUS", 1),
			OffsetPolicy:  getEnv("TERRAIN_OFFSET_POLICY", "ring"),
			Collision:     getBoolEnv("TERRAIN_COLLISION", false),
			Noise: noise.Config{
				Seed:      int64(getIntEnv("NOISE_SEED", int(defaults.Seed))),
				Alpha:     getFloatEnv("NOISE_ALPHA", defaults.Alpha),
				Beta:      getFloatEnv("NOISE_BETA", defaults.Beta),
				Octaves:   getIntEnv("NOISE_OCTAVES", defaults.Octaves),
				Frequency: getFloatEnv("NOISE_FREQUENCY", defaults.Frequency),
			},
		},
		Generation: GenerationConfig{
			Workers:   getIntEnv("GEN_WORKERS", 4),
			QueueSize: getIntEnv("GEN_QUEUE_SIZE", 256),
			Profile:   getBoolEnv("GEN_PROFILE", true),
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("JWT_SECRET", ""),
			JWTExpiration: getDurationEnv("JWT_EXPIRATION", 24*time.Hour),
			Issuer:        getEnv("JWT_ISSUER", "terrain-server"),
		},
		Database: DatabaseConfig{
			Enabled:         getBoolEnv("DB_ENABLED", false),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getIntEnv("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Database:        getEnv("DB_NAME", "terrain_dev"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxConnections:  getIntEnv("DB_MAX_CONNECTIONS", 10),
			MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Logging: LoggingConfig{
			Level: strings.ToLower(getEnv("LOG_LEVEL", "info")),
		},
	}

	if path := os.Getenv("TERRAIN_PROFILE"); path != "" {
		if err := config.Terrain.LoadProfile(path); err != nil {
			return nil, err
		}
		log.Printf("Loaded terrain profile %s", path)
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadProfile overlays the YAML terrain profile at path. Keys missing from
// the file keep their current values.
func (t *TerrainConfig) LoadProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read terrain profile: %w", err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("parse terrain profile %s: %w", path, err)
	}
	return nil
}

// Validate checks the struct tags of every section
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	messages := make([]string, 0, len(ve))
	for _, fe := range ve {
		messages = append(messages, fmt.Sprintf("%s %s", fe.Namespace(), validationMessage(fe)))
	}
	return errors.New(strings.Join(messages, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "numeric":
		return "must be numeric"
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// DatabaseURL returns a PostgreSQL connection string
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
		c.SSLMode,
	)
}

// Address returns host:port for the HTTP listener
func (c *ServerConfig) Address() string {
	return c.Host + ":" + c.Port
}

// OriginAllowed reports whether a browser origin may use the API
func (c *ServerConfig) OriginAllowed(origin string) bool {
	return slices.Contains(c.AllowedOrigins, origin)
}

// IsDevelopment returns true if running in development mode
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == "production"
}

// IsDebug reports whether debug logging is enabled
func (c *LoggingConfig) IsDebug() bool {
	return c.Level == "debug"
}

// Helper functions for environment variable access

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return intValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: invalid float value for %s: %s, using default: %g", key, value, defaultValue)
		return defaultValue
	}
	return floatValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: invalid boolean value for %s: %s, using default: %t", key, value, defaultValue)
		return defaultValue
	}
	return boolValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Warning: invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return duration
}
