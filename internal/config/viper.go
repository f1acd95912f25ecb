package config

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// LEADERBOARD_QUEUE_WORKSHEET.
const EnvPrefix = "LEADERBOARD"

// ViperLoader layers an optional YAML file and the environment over Defaults.
type ViperLoader struct {
	path string
	v    *viper.Viper
}

var _ Loader = (*ViperLoader)(nil)

// NewViperLoader creates a loader. An empty path reads only the environment.
func NewViperLoader(path string) *ViperLoader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, "", reflect.ValueOf(Defaults()))

	// The spreadsheet URL keeps the unprefixed name the sheet tooling uses.
	_ = v.BindEnv("table.spreadsheet_url", EnvPrefix+"_TABLE_SPREADSHEET_URL", "SPREADSHEET_URL")

	return &ViperLoader{path: path, v: v}
}

// Viper exposes the underlying instance so callers can bind flags.
func (l *ViperLoader) Viper() *viper.Viper { return l.v }

func (l *ViperLoader) Load(ctx context.Context) (*Config, error) {
	if l.path != "" {
		l.v.SetConfigFile(l.path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every leaf of def under its mapstructure key so that
// AutomaticEnv can override keys that appear in no file.
func setDefaults(v *viper.Viper, prefix string, def reflect.Value) {
	t := def.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := def.Field(i)
		if fv.Kind() == reflect.Struct {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}
