// Package config loads sidecarctl's settings: defaults, then an optional YAML file, then SIDECAR_* environment
// variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// AppName names the per-user data directory, shared with the desktop app.
	AppName     = "RuinedFooocus"
	DefaultPort = 7865
	envPrefix   = "SIDECAR"
	configName  = "sidecar"
)

type Log struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type Config struct {
	// Port the backend listens on. 0 picks a free port for every start attempt.
	Port int `mapstructure:"port"`
	// Python is the interpreter. Empty means the bundled one in packaged mode, "python" otherwise.
	Python string `mapstructure:"python"`
	// BackendDir holds the entry script. Empty means <resources>/backend in packaged mode, otherwise the
	// nearest directory containing the entry script, walking up from the working directory.
	BackendDir  string `mapstructure:"backend_dir"`
	EntryScript string `mapstructure:"entry_script"`
	UserDataDir string `mapstructure:"user_data_dir"`
	// ResourcesDir switches to packaged mode, where the interpreter and backend ship with the app.
	ResourcesDir string `mapstructure:"resources_dir"`
	// SeedUserData copies bundled defaults into the user data directory before each start.
	SeedUserData bool `mapstructure:"seed_user_data"`

	ReadyTimeout time.Duration `mapstructure:"ready_timeout"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`

	// BackendURL is where generate and chat send jobs. Empty means http://127.0.0.1:<port>.
	BackendURL   string `mapstructure:"backend_url"`
	HTTPRetryMax int    `mapstructure:"http_retry_max"`

	Log Log `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", DefaultPort)
	v.SetDefault("python", "")
	v.SetDefault("backend_dir", "")
	v.SetDefault("entry_script", "launch.py")
	v.SetDefault("user_data_dir", "")
	v.SetDefault("resources_dir", "")
	v.SetDefault("seed_user_data", true)
	v.SetDefault("ready_timeout", "0s")
	v.SetDefault("stop_timeout", "10s")
	v.SetDefault("backend_url", "")
	v.SetDefault("http_retry_max", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the configuration. file may be empty, in which case sidecar.yaml is looked up in the working
// directory and the user config directory, and is optional. overrides take precedence over everything else
// and are keyed like the YAML file, e.g. "log.level".
func Load(file string, overrides map[string]any) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, AppName))
		}
	}
	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	for k, val := range overrides {
		v.Set(k, val)
	}

	var cfg Config
	err = v.Unmarshal(&cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port %d is out of range", c.Port)
	}
	if c.EntryScript == "" {
		return errors.New("entry script must not be empty")
	}
	if c.ReadyTimeout < 0 {
		return fmt.Errorf("ready timeout %s is negative", c.ReadyTimeout)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("stop timeout %s must be positive", c.StopTimeout)
	}
	if c.HTTPRetryMax < 0 {
		return fmt.Errorf("http retry max %d is negative", c.HTTPRetryMax)
	}
	return nil
}

// URL is the backend root for the given port.
func (c Config) URL(port int) string {
	if c.BackendURL != "" {
		return strings.TrimSuffix(c.BackendURL, "/")
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}
