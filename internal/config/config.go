// Package config loads InputLayer's configuration the way the teacher's
// cmd/warren/main.go does: Default() provides defaults, an optional YAML
// file overrides them, and environment variables have the final word. Spec
// §6 additionally requires INPUTLAYER_<SECTION>__<KEY> env overrides, which
// this package implements with reflection over the typed Config struct.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Durability string

const (
	DurabilityImmediate Durability = "immediate"
	DurabilityBatched   Durability = "batched"
	DurabilityAsync     Durability = "async"
)

type StoragePersistConfig struct {
	Durability        Durability `yaml:"durability"`
	BufferSize        int        `yaml:"buffer_size"`
	CompactionWindow  int        `yaml:"compaction_window"`
}

type StoragePerformanceConfig struct {
	NumThreads int `yaml:"num_threads"`
}

type StorageConfig struct {
	DataDir      string                   `yaml:"data_dir"`
	DefaultKG    string                   `yaml:"default_kg"`
	AutoCreateKG bool                     `yaml:"auto_create_kg"`
	Persist      StoragePersistConfig     `yaml:"persist"`
	Performance  StoragePerformanceConfig `yaml:"performance"`
}

type OptimizationConfig struct {
	SubplanSharing        bool `yaml:"subplan_sharing"`
	BooleanSpecialization bool `yaml:"boolean_specialization"`
}

// Config is the engine's full typed configuration, covering every key
// enumerated in spec §6.
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Optimization OptimizationConfig `yaml:"optimization"`
}

// Default returns the engine's default configuration.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			DataDir:      "./data",
			DefaultKG:    "default",
			AutoCreateKG: true,
			Persist: StoragePersistConfig{
				Durability:       DurabilityBatched,
				BufferSize:       4096,
				CompactionWindow: 0,
			},
			Performance: StoragePerformanceConfig{
				NumThreads: 0,
			},
		},
		Optimization: OptimizationConfig{
			SubplanSharing:        true,
			BooleanSpecialization: true,
		},
	}
}

const envPrefix = "INPUTLAYER_"

// Load builds a Config from defaults, an optional YAML file at path (if
// non-empty and it exists), and INPUTLAYER_<SECTION>__<KEY> environment
// overrides, in that order of increasing precedence.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(&cfg, os.Environ()); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides walks the Config struct reflectively, matching each
// env var of the form INPUTLAYER_<SECTION>__<KEY> (case-insensitive,
// underscores matching yaml tag words) against a leaf field.
func applyEnvOverrides(cfg *Config, environ []string) error {
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		key, val := kv[:eq], kv[eq+1:]
		if !strings.HasPrefix(key, envPrefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "__")
		if err := setField(reflect.ValueOf(cfg).Elem(), path, val); err != nil {
			return fmt.Errorf("config: env override %s: %w", key, err)
		}
	}
	return nil
}

func setField(v reflect.Value, path []string, val string) error {
	if len(path) == 0 {
		return fmt.Errorf("empty path")
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := strings.Split(f.Tag.Get("yaml"), ",")[0]
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		if tag != path[0] {
			continue
		}
		fv := v.Field(i)
		if len(path) > 1 {
			if fv.Kind() != reflect.Struct {
				return fmt.Errorf("path %v does not reach a leaf", path)
			}
			return setField(fv, path[1:], val)
		}
		return setLeaf(fv, val)
	}
	// Unknown key: ignore, rather than fail the whole process over an
	// unrelated INPUTLAYER_-prefixed variable.
	return nil
}

func setLeaf(fv reflect.Value, val string) error {
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(val)
	case reflect.Bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	default:
		return fmt.Errorf("unsupported field kind %s", fv.Kind())
	}
	return nil
}
