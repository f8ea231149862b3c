package configs

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

//go:embed config.example.yaml
var exampleYAML string

var loadDefaults = sync.OnceValues(func() (Config, error) {
	v, err := exampleViper()
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode embedded config.example.yaml: %w", err)
	}
	return cfg, nil
})

// DefaultConfig is config.example.yaml as shipped in the binary.
func DefaultConfig() (Config, error) {
	return loadDefaults()
}

// MustDefaultConfig is DefaultConfig for flag declarations at init time.
func MustDefaultConfig() Config {
	cfg, err := loadDefaults()
	if err != nil {
		panic(err)
	}
	return cfg
}

// RegisterDefaults installs every key of config.example.yaml as a default of
// v, so flags, env and config files override it key by key.
func RegisterDefaults(v *viper.Viper) error {
	example, err := exampleViper()
	if err != nil {
		return err
	}
	for _, key := range example.AllKeys() {
		v.SetDefault(key, example.Get(key))
	}
	return nil
}

func exampleViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(exampleYAML)); err != nil {
		return nil, fmt.Errorf("failed to read embedded config.example.yaml: %w", err)
	}
	return v, nil
}
