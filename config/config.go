// Package config loads client settings from a YAML file and ACR_*
// environment variables.
//
// A minimal file:
//
//	loginServer: myregistry.azurecr.io
//	auth:
//	  mode: password
//	  username: ci-bot
//
// The password would then come from ACR_PASSWORD, either exported or
// listed in a .env file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/meigma/acr"
	"github.com/meigma/acr/auth"
)

// ErrInvalid is returned when a configuration cannot be used.
var ErrInvalid = errors.New("config: invalid configuration")

// Mode selects how the client authenticates.
type Mode string

// Authentication modes.
const (
	ModeAnonymous    Mode = "anonymous"
	ModeBasic        Mode = "basic"
	ModePassword     Mode = "password"
	ModeRefreshToken Mode = "refresh_token"
	ModeAAD          Mode = "aad"
	ModeDocker       Mode = "docker"
)

// Auth holds credentials for one login mode.
type Auth struct {
	Mode         Mode   `yaml:"mode"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Tenant       string `yaml:"tenant"`
	AADToken     string `yaml:"aadToken"`
	RefreshToken string `yaml:"refreshToken"`
}

// Config holds client settings.
type Config struct {
	LoginServer       string `yaml:"loginServer"`
	Auth              Auth   `yaml:"auth"`
	PlainHTTP         bool   `yaml:"plainHTTP"`
	PageSize          int    `yaml:"pageSize"`
	UserAgent         string `yaml:"userAgent"`
	LegacyAPI         *bool  `yaml:"legacyAPI"`
	ManifestCacheSize int    `yaml:"manifestCacheSize"`
}

// LoadOption configures Load.
type LoadOption func(*loader)

type loader struct {
	envFile string
	lookup  func(string) (string, bool)
}

// WithEnvFile reads additional variables from path. Variables already set
// in the environment take precedence. A missing file is ignored. The
// default is ".env".
func WithEnvFile(path string) LoadOption {
	return func(l *loader) {
		l.envFile = path
	}
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) LoadOption {
	return func(l *loader) {
		if lookup != nil {
			l.lookup = lookup
		}
	}
}

// Load reads the YAML file at path (skipped when path is empty), then
// applies ACR_* variables from the environment and the env file.
// The result is validated.
func Load(path string, opts ...LoadOption) (*Config, error) {
	l := &loader{envFile: ".env", lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}

	cfg := &Config{}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := Decode(bytes.NewReader(raw), cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	env, err := l.env()
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses YAML from r into cfg. Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// env returns a lookup over the environment, falling back to the env file.
func (l *loader) env() (func(string) (string, bool), error) {
	fileVars := map[string]string{}
	if l.envFile != "" {
		vars, err := godotenv.Read(l.envFile)
		switch {
		case err == nil:
			fileVars = vars
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("config: read %s: %w", l.envFile, err)
		}
	}
	return func(key string) (string, bool) {
		if v, ok := l.lookup(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"ACR_LOGIN_SERVER":  &c.LoginServer,
		"ACR_USERNAME":      &c.Auth.Username,
		"ACR_PASSWORD":      &c.Auth.Password,
		"ACR_TENANT":        &c.Auth.Tenant,
		"ACR_AAD_TOKEN":     &c.Auth.AADToken,
		"ACR_REFRESH_TOKEN": &c.Auth.RefreshToken,
		"ACR_USER_AGENT":    &c.UserAgent,
	}
	for key, dst := range strs {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	if v, ok := lookup("ACR_AUTH_MODE"); ok {
		c.Auth.Mode = Mode(strings.ToLower(strings.TrimSpace(v)))
	}

	if v, ok := lookup("ACR_PLAIN_HTTP"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: ACR_PLAIN_HTTP: %v", ErrInvalid, err)
		}
		c.PlainHTTP = b
	}
	if v, ok := lookup("ACR_LEGACY_API"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: ACR_LEGACY_API: %v", ErrInvalid, err)
		}
		c.LegacyAPI = &b
	}
	ints := map[string]*int{
		"ACR_PAGE_SIZE":           &c.PageSize,
		"ACR_MANIFEST_CACHE_SIZE": &c.ManifestCacheSize,
	}
	for key, dst := range ints {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrInvalid, key, err)
			}
			*dst = n
		}
	}
	return nil
}

// mode returns the configured mode, or infers one from the credentials given.
func (c *Config) mode() Mode {
	switch {
	case c.Auth.Mode != "":
		return c.Auth.Mode
	case c.Auth.RefreshToken != "":
		return ModeRefreshToken
	case c.Auth.AADToken != "":
		return ModeAAD
	case c.Auth.Username != "":
		return ModePassword
	default:
		return ModeAnonymous
	}
}

// Validate reports every missing or inconsistent setting.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LoginServer) == "" {
		errs = append(errs, errors.New("loginServer is required"))
	}
	if c.PageSize < 0 {
		errs = append(errs, errors.New("pageSize must be non-negative"))
	}
	if c.ManifestCacheSize < 0 {
		errs = append(errs, errors.New("manifestCacheSize must be non-negative"))
	}

	switch mode := c.mode(); mode {
	case ModeAnonymous, ModeDocker:
	case ModeBasic, ModePassword:
		if c.Auth.Username == "" {
			errs = append(errs, fmt.Errorf("auth mode %q requires username", mode))
		}
		if c.Auth.Password == "" {
			errs = append(errs, fmt.Errorf("auth mode %q requires password", mode))
		}
	case ModeRefreshToken:
		if c.Auth.RefreshToken == "" {
			errs = append(errs, fmt.Errorf("auth mode %q requires refreshToken", mode))
		}
	case ModeAAD:
		if c.Auth.AADToken == "" {
			errs = append(errs, fmt.Errorf("auth mode %q requires aadToken", mode))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q", mode))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Options returns the client options described by c.
func (c *Config) Options() ([]acr.Option, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var opts []acr.Option
	switch c.mode() {
	case ModeAnonymous:
		opts = append(opts, acr.WithAnonymous())
	case ModeBasic:
		opts = append(opts, acr.WithBasicAuth(c.Auth.Username, c.Auth.Password))
	case ModePassword:
		opts = append(opts, acr.WithPasswordExchange(c.Auth.Username, c.Auth.Password))
	case ModeRefreshToken:
		opts = append(opts, acr.WithRefreshToken(c.Auth.RefreshToken))
	case ModeAAD:
		expiry, _ := auth.ExpiryFromJWT(c.Auth.AADToken)
		opts = append(opts, acr.WithAADToken(c.Auth.Tenant, auth.Static(c.Auth.AADToken, expiry)))
	case ModeDocker:
		opts = append(opts, acr.WithDockerConfig())
	}

	if c.PlainHTTP {
		opts = append(opts, acr.WithPlainHTTP(true))
	}
	if c.PageSize > 0 {
		opts = append(opts, acr.WithPageSize(c.PageSize))
	}
	if c.UserAgent != "" {
		opts = append(opts, acr.WithUserAgent(c.UserAgent))
	}
	if c.LegacyAPI != nil {
		opts = append(opts, acr.WithLegacyAPI(*c.LegacyAPI))
	}
	if c.ManifestCacheSize > 0 {
		opts = append(opts, acr.WithManifestCache(c.ManifestCacheSize))
	}
	return opts, nil
}

// NewClient creates a client from c, appending extra options.
func (c *Config) NewClient(extra ...acr.Option) (*acr.Client, error) {
	opts, err := c.Options()
	if err != nil {
		return nil, err
	}
	return acr.NewClient(c.LoginServer, append(opts, extra...)...)
}
