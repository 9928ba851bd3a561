package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Port     string `envconfig:"PORT" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	JWTSecret     string        `envconfig:"JWT_SECRET" required:"true"`
	CORSOrigins   []string      `envconfig:"CORS_ORIGINS" default:"http://localhost:3000,http://127.0.0.1:3000"`
	PickupSecret  string        `envconfig:"PICKUP_SECRET" default:""`
	ShutdownGrace time.Duration `envconfig:"SHUTDOWN_GRACE" default:"10s"`

	// Store is "mongo" or "memory".
	Store    string `envconfig:"STORE" default:"mongo"`
	MongoURI string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017"`
	MongoDB  string `envconfig:"MONGO_DB" default:"canteen"`
	// SeedFile optionally loads canteens and dishes at startup.
	SeedFile string `envconfig:"SEED_FILE" default:""`

	// Sequencer is "store" or "redis".
	Sequencer string `envconfig:"SEQUENCER" default:"store"`

	// Relay is "none", "redis" or "kafka".
	Relay         string   `envconfig:"RELAY" default:"none"`
	RedisAddr     string   `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string   `envconfig:"REDIS_PASSWORD" default:""`
	RedisChannel  string   `envconfig:"REDIS_CHANNEL" default:"canteen-events"`
	KafkaBrokers  []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic    string   `envconfig:"KAFKA_TOPIC" default:"canteen.events"`
	RelayQueue    int      `envconfig:"RELAY_QUEUE" default:"1024"`

	DispatchQueue int `envconfig:"DISPATCH_QUEUE" default:"1024"`
	HubQueue      int `envconfig:"HUB_QUEUE" default:"1024"`
	ClientBuffer  int `envconfig:"CLIENT_BUFFER" default:"64"`

	AggregateWorkers    int           `envconfig:"AGGREGATE_WORKERS" default:"8"`
	AggregateQueue      int           `envconfig:"AGGREGATE_QUEUE" default:"256"`
	AggregateMaxRetries uint          `envconfig:"AGGREGATE_MAX_RETRIES" default:"5"`
	PopularityHalfLife  time.Duration `envconfig:"POPULARITY_HALF_LIFE" default:"72h"`

	ReviewAutoApprove bool `envconfig:"REVIEW_AUTO_APPROVE" default:"false"`

	APIRatePerMinute   int `envconfig:"API_RATE_PER_MINUTE" default:"100"`
	OrderRatePerMinute int `envconfig:"ORDER_RATE_PER_MINUTE" default:"100"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			logrus.Info("No .env file found; using system environment")
		} else {
			logrus.Warnf("Error loading .env file: %v", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET must not be empty")
	}
	switch c.Store {
	case "mongo", "memory":
	default:
		return fmt.Errorf("config: unknown STORE %q", c.Store)
	}
	switch c.Sequencer {
	case "store", "redis":
	default:
		return fmt.Errorf("config: unknown SEQUENCER %q", c.Sequencer)
	}
	switch c.Relay {
	case "none", "redis", "kafka":
	default:
		return fmt.Errorf("config: unknown RELAY %q", c.Relay)
	}
	if c.AggregateWorkers < 1 {
		return fmt.Errorf("config: AGGREGATE_WORKERS must be positive")
	}
	if c.PickupSecret == "" {
		c.PickupSecret = c.JWTSecret
	}
	return nil
}

// NewLogger builds the process logger the way every component expects it.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logger.Warnf("Invalid LOG_LEVEL '%s', using default: %s", c.LogLevel, level)
	}
	logger.SetLevel(level)
	return logger
}
