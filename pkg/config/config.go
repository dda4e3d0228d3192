// Package config loads the YAML configuration of the yubihsm tools.
//
//	connector:
//	  url: http://127.0.0.1:12345
//	  timeout: 5s
//	auth:
//	  key_id: 1
//	  password_file: ~/.yubihsm/password
//	session:
//	  message_limit: 10000
//	log:
//	  level: info
//
// Every field is optional; absent fields keep their defaults. Unknown
// fields are rejected.
package config

import (
	"bytes"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pion/logging"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/backkem/yubihsm/pkg/credentials"
	"github.com/backkem/yubihsm/pkg/object"
	"github.com/backkem/yubihsm/pkg/securechannel"
	"github.com/backkem/yubihsm/pkg/transport"
)

// DefaultLogLevel is used when log.level is unset.
const DefaultLogLevel = "info"

var (
	// ErrNoPasswordFile is returned by ReadPassword when auth.password_file
	// is unset.
	ErrNoPasswordFile = errors.New("config: auth.password_file is not set")
)

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

type Config struct {
	Connector ConnectorConfig `yaml:"connector"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Log       LogConfig       `yaml:"log"`
}

type ConnectorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type AuthConfig struct {
	KeyID        object.ID `yaml:"key_id"`
	PasswordFile string    `yaml:"password_file"`
}

type SessionConfig struct {
	// MessageLimit counts session messages per session, the closing
	// CloseSession included. Values below 2 are raised to 2.
	MessageLimit uint32 `yaml:"message_limit"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Connector: ConnectorConfig{
			URL:     transport.DefaultConnectorURL,
			Timeout: transport.DefaultHTTPTimeout,
		},
		Auth: AuthConfig{
			KeyID: credentials.DefaultAuthKeyID,
		},
		Session: SessionConfig{
			MessageLimit: securechannel.DefaultMessageLimit,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load reads the file at path over the defaults and validates the result.
// A leading ~ in path or in auth.password_file expands to the home
// directory; a relative password_file is resolved against the directory
// of the config file.
func Load(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: expand path")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	if err := cfg.resolvePaths(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result. Relative
// paths are left as they are.
func Parse(content []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	cfg := Default()
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "config: parse yaml")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Connector.URL) == "" {
		return errors.New("config: connector.url is required")
	}
	u, err := url.Parse(c.Connector.URL)
	if err != nil {
		return errors.Wrap(err, "config: connector.url is invalid")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("config: connector.url must be an absolute http(s) URL, got %q", c.Connector.URL)
	}
	if c.Connector.Timeout <= 0 {
		return errors.Errorf("config: connector.timeout must be positive, got %s", c.Connector.Timeout)
	}
	if c.Auth.KeyID == 0 {
		return errors.New("config: auth.key_id must be non-zero")
	}
	if c.Session.MessageLimit == 0 {
		return errors.New("config: session.message_limit must be positive")
	}
	if _, ok := logLevels[strings.ToLower(c.Log.Level)]; !ok {
		return errors.Errorf("config: log.level %q is not one of disabled, error, warn, info, debug, trace", c.Log.Level)
	}
	return nil
}

func (c *Config) resolvePaths(configPath string) error {
	p := strings.TrimSpace(c.Auth.PasswordFile)
	if p == "" {
		return nil
	}
	p, err := homedir.Expand(p)
	if err != nil {
		return errors.Wrap(err, "config: auth.password_file")
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(filepath.Dir(configPath), p)
	}
	c.Auth.PasswordFile = filepath.Clean(p)
	return nil
}

// ReadPassword returns the contents of auth.password_file without the
// trailing line break.
func (c *Config) ReadPassword() ([]byte, error) {
	if c.Auth.PasswordFile == "" {
		return nil, ErrNoPasswordFile
	}
	b, err := os.ReadFile(c.Auth.PasswordFile)
	if err != nil {
		return nil, errors.Wrap(err, "config: auth.password_file")
	}
	return bytes.TrimRight(b, "\r\n"), nil
}

// LogLevel returns the parsed log.level.
func (c *Config) LogLevel() logging.LogLevel {
	if level, ok := logLevels[strings.ToLower(c.Log.Level)]; ok {
		return level
	}
	return logging.LogLevelInfo
}

// LoggerFactory returns a pion logger factory at the configured level.
func (c *Config) LoggerFactory() *logging.DefaultLoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = c.LogLevel()
	return f
}

// HTTPConfig returns the connector adapter configuration.
func (c *Config) HTTPConfig(lf logging.LoggerFactory) transport.HTTPConfig {
	return transport.HTTPConfig{
		URL:           c.Connector.URL,
		Timeout:       c.Connector.Timeout,
		LoggerFactory: lf,
	}
}
