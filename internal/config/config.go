// Package config reads the daemon defaults from a YAML file.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/maxgio92/xstat/internal/settings"
	"github.com/maxgio92/xstat/pkg/proctable"
)

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	// Listen is the address parents connect to: a host:port pair, or a
	// path for a Unix socket.
	Listen       string              `yaml:"listen"`
	Rank         int                 `yaml:"rank"`
	OutputDir    string              `yaml:"output_dir"`
	FilePrefix   string              `yaml:"file_prefix"`
	ThreadWidth  int                 `yaml:"thread_width"`
	PollInterval time.Duration       `yaml:"poll_interval"`
	MetricsAddr  string              `yaml:"metrics_addr"`
	Processes    []proctable.Process `yaml:"processes"`
}

func Default() *Config {
	return &Config{
		Listen:      settings.SocketPath,
		FilePrefix:  settings.DefaultFilePrefix,
		ThreadWidth: settings.DefaultThreadWidth,
	}
}

// Load reads path over the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "error opening config file")
	}
	defer f.Close()

	return Read(f)
}

func Read(r io.Reader) (*Config, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config")
	}

	c := Default()
	if len(bytes.TrimSpace(buf)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(buf))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return nil, errors.Wrap(ErrInvalid, err.Error())
		}
	}

	return c, c.Validate()
}

func (c *Config) Validate() error {
	switch {
	case c.Listen == "":
		return errors.Wrap(ErrInvalid, "empty listen address")
	case c.Rank < 0:
		return errors.Wrapf(ErrInvalid, "negative rank %d", c.Rank)
	case c.ThreadWidth <= 0:
		return errors.Wrapf(ErrInvalid, "thread width %d", c.ThreadWidth)
	case c.PollInterval < 0:
		return errors.Wrapf(ErrInvalid, "poll interval %s", c.PollInterval)
	}
	return nil
}
