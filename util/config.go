package util

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const Name = "rendezvous"
const ConfigFileName = "config.yaml"
const EnvFileName = ".env"

// DefaultTokenSecret ships in the embedded config and must be replaced
// before serving.
const DefaultTokenSecret = "change-me"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host           string        `yaml:"host"`
		HttpPort       int           `yaml:"httpPort"`
		SslDomain      string        `yaml:"sslDomain"`
		Scheme         string        `yaml:"scheme"`
		TokenSecret    string        `yaml:"tokenSecret"`
		TokenTTL       time.Duration `yaml:"tokenTTL"`
		DateSkew       time.Duration `yaml:"dateSkew"`
		FetchTimeout   time.Duration `yaml:"fetchTimeout"`
		MaxExpandDepth int           `yaml:"maxExpandDepth"`
		DbPath         string        `yaml:"dbPath"`
		Debug          bool          `yaml:"debug"`
	}

	// Source is the file the configuration was read from, or "embedded".
	Source string `yaml:"-"`
}

// BaseURL is the origin every local identifier lives under.
func (c *AppConfig) BaseURL() string {
	scheme := c.Conf.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + c.Conf.SslDomain
}

// Validate reports settings the server cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.Conf.SslDomain == "" {
		errs = append(errs, errors.New("sslDomain is required"))
	}
	if c.Conf.Scheme != "http" && c.Conf.Scheme != "https" {
		errs = append(errs, fmt.Errorf("scheme must be http or https, got %q", c.Conf.Scheme))
	}
	if c.Conf.HttpPort <= 0 || c.Conf.HttpPort > 65535 {
		errs = append(errs, fmt.Errorf("httpPort out of range: %d", c.Conf.HttpPort))
	}
	if c.Conf.TokenSecret == "" {
		errs = append(errs, errors.New("tokenSecret is required"))
	}
	return errors.Join(errs...)
}

// ReadConf loads the configuration from path, or when path is empty from
// config.yaml in the working directory or the user config directory, falling
// back to the embedded defaults. Variables from an optional .env file and
// RENDEZVOUS_* environment variables override the file.
func ReadConf(path string) (*AppConfig, error) {
	c := &AppConfig{}

	if path == "" {
		path = ResolveFilePath(ConfigFileName)
	}

	buf, err := os.ReadFile(path)
	switch {
	case err == nil:
		c.Source = path
	case errors.Is(err, os.ErrNotExist):
		buf = embeddedConfig
		c.Source = "embedded"
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err := godotenv.Load(ResolveFilePath(EnvFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("in %s file: %w", EnvFileName, err)
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *AppConfig) applyEnv() error {
	var errs []error

	setString(&c.Conf.Host, "HOST")
	setString(&c.Conf.SslDomain, "SSLDOMAIN")
	setString(&c.Conf.Scheme, "SCHEME")
	setString(&c.Conf.TokenSecret, "TOKEN_SECRET")
	setString(&c.Conf.DbPath, "DB_PATH")

	errs = append(errs,
		setInt(&c.Conf.HttpPort, "HTTPPORT"),
		setInt(&c.Conf.MaxExpandDepth, "MAX_EXPAND_DEPTH"),
		setDuration(&c.Conf.TokenTTL, "TOKEN_TTL"),
		setDuration(&c.Conf.DateSkew, "DATE_SKEW"),
		setDuration(&c.Conf.FetchTimeout, "FETCH_TIMEOUT"),
		setBool(&c.Conf.Debug, "DEBUG"),
	)
	return errors.Join(errs...)
}

func envKey(name string) string {
	return strings.ToUpper(Name) + "_" + name
}

func setString(dst *string, name string) {
	if v := os.Getenv(envKey(name)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, name string) error {
	v := os.Getenv(envKey(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envKey(name), err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, name string) error {
	v := os.Getenv(envKey(name))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envKey(name), err)
	}
	*dst = d
	return nil
}

func setBool(dst *bool, name string) error {
	v := os.Getenv(envKey(name))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", envKey(name), err)
	}
	*dst = b
	return nil
}
