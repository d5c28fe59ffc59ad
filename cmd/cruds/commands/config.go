package commands

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/cruds-go/cruds/auth"
	"github.com/cruds-go/cruds/retryhttp"
)

// envPrefix is stripped from environment variables before they are merged
// over the file configuration, e.g. CRUDS_AUTH__CLIENT_ID -> auth.client_id.
const envPrefix = "CRUDS_"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config is the CLI configuration, merged from defaults, the TOML file, and
// the environment, in that order.
type Config struct {
	// Host is the API base URL requests are made against.
	Host string `koanf:"host" validate:"required,url"`

	Auth  AuthConfig  `koanf:"auth"`
	Retry RetryConfig `koanf:"retry"`
}

// AuthConfig configures the OAuth2 credential manager. When TokenURL is
// empty the CLI sends requests unauthenticated.
type AuthConfig struct {
	TokenURL     string `koanf:"token_url" validate:"omitempty,url"`
	AuthorizeURL string `koanf:"authorize_url" validate:"omitempty,url"`
	RedirectURL  string `koanf:"redirect_url" validate:"required_with=AuthorizeURL,omitempty,url"`
	ClientID     string `koanf:"client_id" validate:"required_with=TokenURL"`
	ClientSecret string `koanf:"client_secret"`
	Scope        string `koanf:"scope"`
	Username     string `koanf:"username"`
}

// RetryConfig overrides the default retry policy for outbound requests.
// Zero values keep the package defaults.
type RetryConfig struct {
	MaxAttempts    int     `koanf:"max_attempts" validate:"omitempty,min=1"`
	BackoffFactor  float64 `koanf:"backoff_factor" validate:"omitempty,gt=0"`
	MaxBackoffSecs int     `koanf:"max_backoff_seconds" validate:"omitempty,min=1"`
}

// Enabled reports whether OAuth2 credentials are configured at all.
func (a AuthConfig) Enabled() bool {
	return a.TokenURL != ""
}

// authConfig maps the CLI fields onto the credential manager configuration.
// The password is supplied separately; it never lives in the config file.
func (a AuthConfig) authConfig(password string) auth.Config {
	return auth.Config{
		TokenURL:     a.TokenURL,
		AuthorizeURL: a.AuthorizeURL,
		RedirectURL:  a.RedirectURL,
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		Scope:        a.Scope,
		Username:     a.Username,
		Password:     password,
	}
}

// policy maps the retry overrides onto a transport policy.
func (r RetryConfig) policy() retryhttp.Policy {
	return retryhttp.Policy{
		MaxAttempts:   r.MaxAttempts,
		BackoffFactor: r.BackoffFactor,
		MaxBackoff:    time.Duration(r.MaxBackoffSecs) * time.Second,
	}
}

// loadConfig merges defaults, an optional TOML file, and CRUDS_* environment
// variables, then validates the result.
func loadConfig(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(map[string]any{
		"auth.scope": "",
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			// Double underscore separates nesting levels so single
			// underscores survive inside key names.
			return strings.ReplaceAll(key, "__", "."), value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// configFromCommand loads the configuration named by the --config flag,
// falling back to cruds.toml in the working directory when present.
func configFromCommand(path string) (*Config, error) {
	if path == "" {
		if _, err := os.Stat("cruds.toml"); err == nil {
			path = "cruds.toml"
		}
	}
	return loadConfig(path)
}
