package tempest

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"gopkg.in/yaml.v3"
)

// Environment variables read by ApplyEnv.
const (
	EnvRegion       = "TEMPEST_REGION"
	EnvEndpoint     = "TEMPEST_ENDPOINT"
	EnvTablePrefix  = "TEMPEST_TABLE_PREFIX"
	EnvBatchRetries = "TEMPEST_BATCH_RETRIES"
)

// Config describes how to reach DynamoDB and the shapes of the tables used.
//
//	region: us-west-2
//	tablePrefix: staging_
//	tables:
//	  music_items:
//	    hashKey: partition_key
//	    rangeKey: sort_key
type Config struct {
	Region       string           `yaml:"region" validate:"required"`
	Endpoint     string           `yaml:"endpoint" validate:"omitempty,url"`
	TablePrefix  string           `yaml:"tablePrefix"`
	BatchRetries int              `yaml:"batchRetries" validate:"gte=0,lte=10"`
	RetryBackoff time.Duration    `yaml:"retryBackoff" validate:"gte=0"`
	Tables       map[string]Shape `yaml:"tables" validate:"dive"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Region:       "us-east-1",
		BatchRetries: 3,
		RetryBackoff: 50 * time.Millisecond,
	}
}

// LoadConfig reads a YAML configuration over the defaults.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFile reads the YAML file at path, applies the environment and
// validates the result.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	cfg, err := LoadConfig(f)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TEMPEST_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := os.LookupEnv(EnvRegion); ok {
		c.Region = v
	}
	if v, ok := os.LookupEnv(EnvEndpoint); ok {
		c.Endpoint = v
	}
	if v, ok := os.LookupEnv(EnvTablePrefix); ok {
		c.TablePrefix = v
	}
	if v, ok := os.LookupEnv(EnvBatchRetries); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBatchRetries, err)
		}
		c.BatchRetries = n
	}
	return nil
}

// Validate checks the configuration and every table shape in it.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, shape := range c.Tables {
		if err := shape.Validate(); err != nil {
			return fmt.Errorf("table %q: %w", name, err)
		}
	}
	return nil
}

// Shape returns the configured shape of the named table.
func (c Config) Shape(name string) (Shape, bool) {
	s, ok := c.Tables[name]
	return s, ok
}

// Table binds the configured table name on db.
func (c Config) Table(db *DB, name string) (*Table, error) {
	shape, ok := c.Shape(name)
	if !ok {
		return nil, fmt.Errorf("table %q is not configured", name)
	}
	return db.Table(name, shape)
}

// Options returns the DB options implied by the configuration.
func (c Config) Options() []Option {
	opts := []Option{WithBatchRetries(c.BatchRetries, c.RetryBackoff)}
	if prefix := c.TablePrefix; prefix != "" {
		opts = append(opts, WithTableNameResolver(func(name string) string {
			return prefix + name
		}))
	}
	return opts
}

// NewClient creates a DynamoDB client for the configured region and endpoint
// using the default AWS credential chain.
func (c Config) NewClient(ctx context.Context) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(c.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if c.Endpoint != "" {
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}
