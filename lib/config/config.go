package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shiroyk/courier"
	"github.com/shiroyk/courier/auth"
	"github.com/shiroyk/courier/cookie/bolt"
	"github.com/shiroyk/courier/fetch"
	"github.com/shiroyk/courier/lib/utils"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPath the default configuration file
	DefaultPath = "~/.config/courier/config.yml"
	// DefaultCookiePath the default cookie store directory
	DefaultCookiePath = "~/.config/courier"
	// DefaultJar the default cookie jar name
	DefaultJar = "default"
	// DefaultConnectTimeout the default connect timeout
	DefaultConnectTimeout = 30 * time.Second
	// DefaultReadTimeout the default read timeout
	DefaultReadTimeout = time.Minute
)

type configKey struct{}

// NewContext returns a context that contains the given Config.
func NewContext(ctx context.Context, config Config) context.Context {
	return context.WithValue(ctx, configKey{}, config)
}

// FromContext returns the Config stored in ctx by NewContext, or the default
// Config if there is none.
func FromContext(ctx context.Context) Config {
	if config, ok := ctx.Value(configKey{}).(Config); ok {
		return config
	}
	return *DefaultConfig()
}

// Config The courier configuration
type Config struct {
	// Session defaults
	Session Session `yaml:"session"`

	// Cookie store
	Cookie Cookie `yaml:"cookie"`

	// Auth credentials registered per host
	Auth []Credential `yaml:"auth,omitempty"`
}

// Session the session defaults
type Session struct {
	Headers         map[string]string `yaml:"headers,omitempty"`
	ConnectTimeout  Duration          `yaml:"connect-timeout"`
	ReadTimeout     Duration          `yaml:"read-timeout"`
	Proxy           []string          `yaml:"proxy,omitempty"`
	FollowRedirects bool              `yaml:"follow-redirects"`
}

// Cookie the cookie store options. An empty path disables persistence.
type Cookie struct {
	Path   string   `yaml:"path"`
	Jar    string   `yaml:"jar"`
	MaxAge Duration `yaml:"max-age"`
}

// Credential a Digest credential for a host. With Keyring set the password
// is read from the OS keyring under auth.DefaultKeyringService.
type Credential struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password,omitempty"`
	Keyring  bool   `yaml:"keyring,omitempty"`
}

// Duration a time.Duration read from a string such as "30s", or from an
// integer number of milliseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case int:
		*d = Duration(time.Duration(v) * time.Millisecond)
		return nil
	case nil:
		*d = 0
		return nil
	}
	duration, err := cast.ToDurationE(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// DefaultConfig The default configuration
func DefaultConfig() *Config {
	return &Config{
		Session: Session{
			ConnectTimeout: Duration(DefaultConnectTimeout),
			ReadTimeout:    Duration(DefaultReadTimeout),
		},
		Cookie: Cookie{
			Path: DefaultCookiePath,
			Jar:  DefaultJar,
		},
	}
}

// ReadConfig read configuration from the file.
// If the configuration file is not existing then create it with default configuration.
func ReadConfig(path string) (config *Config, err error) {
	file, err := utils.ExpandPath(path)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(file); errors.Is(err, os.ErrNotExist) {
		config = DefaultConfig()
		if err = WriteConfig(file, config); err != nil {
			return nil, err
		}
		return config, nil
	}

	return utils.ReadYaml[Config](file)
}

// WriteConfig writes the configuration to the file, creating its directory.
func WriteConfig(path string, config *Config) error {
	file, err := utils.ExpandPath(path)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(file), os.ModePerm); err != nil {
		return err
	}
	bytes, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(file, bytes, 0644)
}

// Options returns the fetch.Options of the session section.
func (c *Config) Options(log *slog.Logger) (fetch.Options, error) {
	proxy, err := fetch.RoundRobinProxy(c.Session.Proxy...)
	if err != nil {
		return fetch.Options{}, err
	}
	return fetch.Options{
		Headers:        c.Session.Headers,
		ConnectTimeout: time.Duration(c.Session.ConnectTimeout),
		ReadTimeout:    time.Duration(c.Session.ReadTimeout),
		Proxy:          proxy,
		Logger:         log,
	}, nil
}

// Registry returns a registry holding a Digest strategy per credential.
func (c *Config) Registry() (*auth.Registry, error) {
	registry := auth.NewRegistry()
	for i, cred := range c.Auth {
		if cred.Host == "" {
			return nil, courier.Missing(fmt.Sprintf("auth[%d].host", i))
		}
		if cred.Username == "" {
			return nil, courier.Missing(fmt.Sprintf("auth[%d].username", i))
		}
		if !cred.Keyring {
			registry.Register(cred.Host, auth.NewDigest(cred.Username, cred.Password))
			continue
		}
		digest, err := auth.NewDigestFromKeyring(auth.DefaultKeyringService, cred.Username)
		if err != nil {
			return nil, err
		}
		registry.Register(cred.Host, digest)
	}
	return registry, nil
}

// NewSession returns a session configured by c.
func (c *Config) NewSession(log *slog.Logger) (*fetch.Session, error) {
	opt, err := c.Options(log)
	if err != nil {
		return nil, err
	}
	if opt.Registry, err = c.Registry(); err != nil {
		return nil, err
	}
	return fetch.NewSession(opt), nil
}

// OpenStore opens the cookie store, nil when persistence is disabled.
func (c *Config) OpenStore() (*bolt.Store, error) {
	if c.Cookie.Path == "" {
		return nil, nil
	}
	path, err := utils.ExpandPath(c.Cookie.Path)
	if err != nil {
		return nil, err
	}
	return bolt.NewStore(path, time.Duration(c.Cookie.MaxAge))
}

// JarName returns the configured jar name, DefaultJar if unset.
func (c *Config) JarName() string {
	return utils.ZeroOr(c.Cookie.Jar, DefaultJar)
}
