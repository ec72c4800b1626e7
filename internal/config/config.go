package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectionProfile holds broker connectivity and security configuration for
// one cluster. Profiles are treated as immutable while a session references
// them; edits through the repository replace the stored entry and bump
// UpdatedAt.
type ConnectionProfile struct {
	ID        string            `yaml:"id,omitempty" json:"id,omitempty"`
	Name      string            `yaml:"name" json:"name"`
	Brokers   []string          `yaml:"brokers" json:"brokers"`
	ClientID  string            `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	TLS       *TLSConfig        `yaml:"tls,omitempty" json:"tls,omitempty"`
	SASL      *SASLConfig       `yaml:"sasl,omitempty" json:"sasl,omitempty"`
	AWS       *AWSConfig        `yaml:"aws,omitempty" json:"aws,omitempty"`
	Options   map[string]string `yaml:"options,omitempty" json:"options,omitempty"`
	CreatedAt time.Time         `yaml:"created_at,omitempty" json:"created_at,omitempty"`
	UpdatedAt time.Time         `yaml:"updated_at,omitempty" json:"updated_at,omitempty"`
}

// TLSConfig holds TLS related fields.
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	CAFile             string `yaml:"ca_file,omitempty" json:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty" json:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty" json:"key_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" json:"insecure_skip_verify,omitempty"`
}

// SASLConfig holds SASL configuration. Credentials may be provided inline or
// via env var names so that secret material stays out of the profile file.
type SASLConfig struct {
	Mechanism   string `yaml:"mechanism,omitempty" json:"mechanism,omitempty"` // e.g. PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username    string `yaml:"username,omitempty" json:"username,omitempty"`
	Password    string `yaml:"password,omitempty" json:"password,omitempty"`
	UsernameEnv string `yaml:"username_env,omitempty" json:"username_env,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty" json:"password_env,omitempty"`
}

// AWSConfig holds AWS IAM SASL config. Prefer the standard AWS credential
// provider (env, shared creds, role).
type AWSConfig struct {
	IAM             bool   `yaml:"iam,omitempty" json:"iam,omitempty"`
	Region          string `yaml:"region,omitempty" json:"region,omitempty"`
	AccessKeyEnv    string `yaml:"access_key_env,omitempty" json:"access_key_env,omitempty"`
	SecretKeyEnv    string `yaml:"secret_key_env,omitempty" json:"secret_key_env,omitempty"`
	SessionTokenEnv string `yaml:"session_token_env,omitempty" json:"session_token_env,omitempty"`
}

// EngineConfig holds the consumption-engine tuning knobs. The retry and
// backpressure parameters are deliberately configuration rather than
// constants.
type EngineConfig struct {
	DataDir         string        `yaml:"data_dir,omitempty" json:"data_dir,omitempty"`
	PollTimeout     time.Duration `yaml:"poll_timeout,omitempty" json:"poll_timeout,omitempty"`
	BatchSize       int           `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	InFlightBatches int           `yaml:"in_flight_batches,omitempty" json:"in_flight_batches,omitempty"`
	MaxRetries      uint64        `yaml:"max_retries,omitempty" json:"max_retries,omitempty"`
	InitialBackoff  time.Duration `yaml:"initial_backoff,omitempty" json:"initial_backoff,omitempty"`
	MaxBackoff      time.Duration `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty"`
	DefaultPageSize int           `yaml:"default_page_size,omitempty" json:"default_page_size,omitempty"`
}

// DefaultEngineConfig returns the engine tuning used when the file omits the
// engine section.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DataDir:         "./data",
		PollTimeout:     5 * time.Second,
		BatchSize:       500,
		InFlightBatches: 4,
		MaxRetries:      5,
		InitialBackoff:  500 * time.Millisecond,
		MaxBackoff:      8 * time.Second,
		DefaultPageSize: 100,
	}
}

// WithDefaults fills zero-valued fields from DefaultEngineConfig.
func (e EngineConfig) WithDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if e.DataDir == "" {
		e.DataDir = d.DataDir
	}
	if e.PollTimeout <= 0 {
		e.PollTimeout = d.PollTimeout
	}
	if e.BatchSize <= 0 {
		e.BatchSize = d.BatchSize
	}
	if e.InFlightBatches <= 0 {
		e.InFlightBatches = d.InFlightBatches
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = d.MaxRetries
	}
	if e.InitialBackoff <= 0 {
		e.InitialBackoff = d.InitialBackoff
	}
	if e.MaxBackoff <= 0 {
		e.MaxBackoff = d.MaxBackoff
	}
	if e.DefaultPageSize <= 0 {
		e.DefaultPageSize = d.DefaultPageSize
	}
	return e
}

// FileConfig is the on-disk configuration: connection profiles plus engine tuning.
type FileConfig struct {
	Profiles []ConnectionProfile `yaml:"profiles" json:"profiles"`
	Engine   EngineConfig        `yaml:"engine,omitempty" json:"engine,omitempty"`
}

// ErrInvalidProfile is returned when a profile misses its name or brokers.
var ErrInvalidProfile = errors.New("profile requires a name and at least one broker")

// Validate checks that a profile is usable for opening connections.
func (c *ConnectionProfile) Validate() error {
	if c.Name == "" || len(c.Brokers) == 0 {
		return ErrInvalidProfile
	}
	return nil
}

// GetAuthType returns a human-readable authentication type for the profile.
func (c *ConnectionProfile) GetAuthType() string {
	if c.AWS != nil && c.AWS.IAM {
		return "AWS IAM"
	}
	if c.SASL != nil && c.SASL.Mechanism != "" {
		mechanism := c.SASL.Mechanism
		if c.TLS != nil && c.TLS.Enabled {
			return "SASL/" + mechanism + " + TLS"
		}
		return "SASL/" + mechanism
	}
	if c.TLS != nil && c.TLS.Enabled {
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			return "mTLS"
		}
		return "TLS"
	}
	return "PLAINTEXT"
}

// ReadConfig reads the YAML configuration file and applies engine defaults.
func ReadConfig(path string) (FileConfig, error) {
	var cfg FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.Engine = cfg.Engine.WithDefaults()
	return cfg, nil
}

// WriteConfig persists the configuration as YAML.
func WriteConfig(path string, cfg FileConfig) error {
	b, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
