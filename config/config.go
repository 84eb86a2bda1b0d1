package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"github.com/pingcap/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Config struct {
	Engine Engine `toml:"engine"`
	Log    Log    `toml:"log"`
	DBPath string `toml:"db-path"` // Base state directory, empty keeps the state in memory.
}

type Engine struct {
	Concurrency    int    `toml:"concurrency"`     // Number of workers, set 0 to use all CPU cores.
	MaxIncarnation int    `toml:"max-incarnation"` // Re-executions of one txn before falling back to sequential execution, 0 disables.
	Budget         uint64 `toml:"budget"`          // Cumulative cost cap of a block, 0 means unlimited.
	UseHints       bool   `toml:"use-hints"`       // Park txns behind hinted writers before their first execution.
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"` // Log file, empty logs to stderr.
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		Engine: Engine{
			Concurrency:    0,
			MaxIncarnation: 1000,
			Budget:         0,
			UseHints:       false,
		},
		Log: Log{
			Level:  getLogLevel(),
			Format: "text",
		},
	}
}

// Load reads a toml file on top of the defaults.
func Load(path string) (*Config, error) {
	c := NewDefaultConfig()
	if path == "" {
		return c, nil
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}
	return c, c.Validate()
}

func (c *Config) Validate() error {
	if c.Engine.Concurrency < 0 {
		return errors.Errorf("concurrency must not be negative, got %d", c.Engine.Concurrency)
	}
	if c.Engine.MaxIncarnation < 0 {
		return errors.Errorf("max-incarnation must not be negative, got %d", c.Engine.MaxIncarnation)
	}
	if c.Engine.MaxIncarnation == 0 {
		log.Warn("max-incarnation is 0, a pathological block may re-execute without bound")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// InitLogger replaces the global logger according to the log section.
func (c *Config) InitLogger() (*zap.Logger, error) {
	lg, props, err := log.InitLogger(&log.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		File:   log.FileLogConfig{Filename: c.Log.File},
	})
	if err != nil {
		return nil, errors.Wrap(err, "init logger")
	}
	log.ReplaceGlobals(lg, props)
	return lg, nil
}
