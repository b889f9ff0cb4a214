package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/matheus3301/inbox/internal/broker"
	"github.com/matheus3301/inbox/internal/signature"
)

// Config represents the global ~/.inbox/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session" env:"INBOX_SESSION"`

	// Listen is the daemon HTTP address; clients dial it too.
	Listen string `toml:"listen" env:"INBOX_LISTEN" env-default:"127.0.0.1:7420"`

	Agent      Agent                `toml:"agent"`
	Broker     broker.Config        `toml:"broker"`
	Signatures []signature.Template `toml:"signatures"`
}

// Agent identifies who is working the inbox.
type Agent struct {
	ID      string            `toml:"id" env:"INBOX_AGENT" env-default:"agent"`
	Profile signature.Profile `toml:"profile"`

	// Signature pins a template id; empty picks the channel default.
	Signature string `toml:"signature" env:"INBOX_SIGNATURE"`
}

// DaemonURL returns the base URL clients use to reach the daemon.
func (c *Config) DaemonURL() string {
	if strings.Contains(c.Listen, "://") {
		return c.Listen
	}
	return "http://" + c.Listen
}

// Load decodes the TOML file at path. Keys that match no field are an
// error so typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if extra := md.Undecoded(); len(extra) > 0 {
		keys := make([]string, len(extra))
		for i, k := range extra {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// Read loads path if it exists and then applies environment overrides and
// defaults. A missing file is not an error. Variables that are set but
// empty do not override: the file value, or the default, stays.
func Read(path string) (*Config, error) {
	cfg, err := Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = &Config{}
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	file := *cfg
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	keepOnEmptyEnv(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(file))
	return cfg, nil
}

// keepOnEmptyEnv walks the env-tagged string fields of dst and puts back
// the file value (or env-default) wherever the variable is set to "".
func keepOnEmptyEnv(dst, file reflect.Value) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		switch {
		case f.Type.Kind() == reflect.Struct:
			keepOnEmptyEnv(dst.Field(i), file.Field(i))
		case f.Type.Kind() == reflect.String:
			key := f.Tag.Get("env")
			if key == "" {
				continue
			}
			if v, ok := os.LookupEnv(key); !ok || v != "" {
				continue
			}
			val := file.Field(i).String()
			if val == "" {
				val = f.Tag.Get("env-default")
			}
			dst.Field(i).SetString(val)
		}
	}
}

// Save replaces path with cfg. The file is written next to path and
// renamed into place, so readers never see a partial config.
func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if err := toml.NewEncoder(tmp).Encode(cfg); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
