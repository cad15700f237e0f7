package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// ListValues returns the config file's settings as a flat dot-keyed map.
// Credentials are masked when mask is true.
func ListValues(path string, mask bool) (map[string]any, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}
	flat := Flatten(v.AllSettings())
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// GetValue returns one configuration value by dot-separated key.
func GetValue(path, key string) (any, error) {
	v, err := open(path)
	if err != nil {
		return nil, err
	}
	val := v.Get(key)
	if val == nil {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return val, nil
}

// SetValue writes one configuration value by dot-separated key, persisting
// the file. The settings tree is flattened, updated, and rebuilt so the
// written file keeps its nested shape.
func SetValue(path, key, value string) error {
	v, err := open(path)
	if err != nil {
		return err
	}
	flat := Flatten(v.AllSettings())
	flat[key] = value

	out := viper.New()
	out.SetConfigFile(path)
	out.SetConfigType("yaml")
	if err := out.MergeConfigMap(Unflatten(flat)); err != nil {
		return fmt.Errorf("merge config: %w", err)
	}
	return out.WriteConfigAs(path)
}

func open(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return v, nil
}
