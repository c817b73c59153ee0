// Package config loads the service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/fortressi/resourcesaga/audit"
	"github.com/fortressi/resourcesaga/gateway"
	"github.com/fortressi/resourcesaga/ledger"
)

type Config struct {
	Service  string         `yaml:"service" validate:"required"`
	Log      LogConfig      `yaml:"log"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Journal  JournalConfig  `yaml:"journal"`
	Gateway  gateway.Config `yaml:"gateway"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" validate:"required"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
}

type PostgresConfig struct {
	DSN          string `yaml:"dsn" validate:"required"`
	MaxOpenConns int    `yaml:"max_open_conns" validate:"min=0"`
}

// KafkaConfig names the brokers and topics. Topics lists what the sagas
// publish; GroupCreatedTopic and MembershipTopic are what the forum
// consumers read. The consumer group is shared by both consumers.
type KafkaConfig struct {
	Brokers           []string      `yaml:"brokers" validate:"required,min=1,dive,required"`
	GroupID           string        `yaml:"group_id" validate:"required"`
	Topics            audit.Topics  `yaml:"topics"`
	GroupCreatedTopic string        `yaml:"group_created_topic" validate:"required"`
	MembershipTopic   string        `yaml:"membership_topic" validate:"required"`
	BatchSize         int           `yaml:"batch_size" validate:"min=1"`
	BatchWait         time.Duration `yaml:"batch_wait" validate:"min=0"`
}

type LedgerConfig struct {
	TTL       time.Duration `yaml:"ttl" validate:"gt=0"`
	KeyPrefix string        `yaml:"key_prefix"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// JournalConfig controls where run records are kept and how often stale
// runs are swept.
type JournalConfig struct {
	Dir        string        `yaml:"dir" validate:"required"`
	SweepCron  string        `yaml:"sweep_cron"`
	StaleAfter time.Duration `yaml:"stale_after" validate:"gt=0"`
}

// Default returns a configuration that runs against local services.
func Default() Config {
	return Config{
		Service:  "resourcesaga",
		Log:      LogConfig{Level: "info"},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Postgres: PostgresConfig{DSN: "postgres://localhost:5432/forum?sslmode=disable", MaxOpenConns: 10},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			GroupID: "forum-service",
			Topics: audit.Topics{
				MentorAction: audit.DefaultMentorActionTopic,
				CourseGroup:  audit.DefaultCourseGroupTopic,
			},
			GroupCreatedTopic: "course-forum-group",
			MembershipTopic:   "course-purchased",
			BatchSize:         100,
			BatchWait:         time.Second,
		},
		Ledger:  LedgerConfig{TTL: ledger.DefaultTTL},
		Metrics: MetricsConfig{Addr: ":9090"},
		Journal: JournalConfig{Dir: "./runs", SweepCron: "@every 5m", StaleAfter: 15 * time.Minute},
		Gateway: gateway.Config{
			CourseBaseURL: "http://localhost:8081",
			OrderBaseURL:  "http://localhost:8082",
			Timeout:       gateway.DefaultTimeout,
		},
	}
}

// Load reads path on top of Default and then applies environment
// overrides. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Kafka.Topics.MentorAction == "" || c.Kafka.Topics.CourseGroup == "" {
		return errors.New("invalid config: kafka topics must not be empty")
	}
	consumed := map[string]string{
		c.Kafka.GroupCreatedTopic: "group_created_topic",
		c.Kafka.MembershipTopic:   "membership_topic",
	}
	if len(consumed) != 2 {
		return errors.New("invalid config: group_created_topic and membership_topic must differ")
	}
	for _, published := range []string{c.Kafka.Topics.MentorAction, c.Kafka.Topics.CourseGroup} {
		if name, ok := consumed[published]; ok {
			return fmt.Errorf("invalid config: %s %q is also a published topic", name, published)
		}
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("SAGA_LOG_LEVEL", &c.Log.Level)
	str("SAGA_REDIS_ADDR", &c.Redis.Addr)
	str("SAGA_REDIS_PASSWORD", &c.Redis.Password)
	str("SAGA_POSTGRES_DSN", &c.Postgres.DSN)
	str("SAGA_KAFKA_GROUP_ID", &c.Kafka.GroupID)
	str("SAGA_KAFKA_GROUP_CREATED_TOPIC", &c.Kafka.GroupCreatedTopic)
	str("SAGA_KAFKA_MEMBERSHIP_TOPIC", &c.Kafka.MembershipTopic)
	str("SAGA_METRICS_ADDR", &c.Metrics.Addr)
	str("SAGA_JOURNAL_DIR", &c.Journal.Dir)
	str("SAGA_COURSE_BASE_URL", &c.Gateway.CourseBaseURL)
	str("SAGA_ORDER_BASE_URL", &c.Gateway.OrderBaseURL)
	if v, ok := lookup("SAGA_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}

	return errors.Join(
		num("SAGA_REDIS_DB", &c.Redis.DB),
		num("SAGA_KAFKA_BATCH_SIZE", &c.Kafka.BatchSize),
		dur("SAGA_KAFKA_BATCH_WAIT", &c.Kafka.BatchWait),
		dur("SAGA_LEDGER_TTL", &c.Ledger.TTL),
		dur("SAGA_GATEWAY_TIMEOUT", &c.Gateway.Timeout),
	)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
