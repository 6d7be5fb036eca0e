package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// ConfigFileName is the name of the config file.
const ConfigFileName = "quarry.yaml"

// ConfigFileNameAlt is the alternate name of the config file.
const ConfigFileNameAlt = "quarry.yml"

// EnvPrefix is the prefix of configuration environment variables. A
// double underscore separates nesting levels, so QUARRY_BUILD__PATTERNS
// sets build.patterns.
const EnvPrefix = "QUARRY_"

// Defaults is the built-in configuration layer.
func Defaults() map[string]any {
	return map[string]any{
		"build.patterns":      []string{"BUILD", "BUILD.quarry"},
		"build.ignores":       []string{},
		"build.prelude_globs": []string{},
		"rules.engine":        "",
		"synthetic.manifest":  "quarry.synthetic.yaml",
		"state.backend":       "sqlite",
		"state.path":          ".quarry/index.db",
		"explore.listen":      "127.0.0.1:8745",
		"watch.debounce_ms":   100,
		"output":              "auto",
		"verbose":             false,
	}
}

// flagKeys maps CLI flag names onto config keys. Flags not listed here
// are CLI-only and never reach the Config.
var flagKeys = map[string]string{
	"patterns":      "build.patterns",
	"ignores":       "build.ignores",
	"prelude-globs": "build.prelude_globs",
	"rules-engine":  "rules.engine",
	"manifest":      "synthetic.manifest",
	"state-backend": "state.backend",
	"state-path":    "state.path",
	"state-dsn":     "state.dsn",
	"listen":        "explore.listen",
	"output":        "output",
	"verbose":       "verbose",
}

// Load assembles the Config for a build root. cfgFile overrides the
// default quarry.yaml lookup; flags may be nil. Precedence, highest
// last: defaults, config file, QUARRY_* environment, changed flags.
func Load(root, cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	configPath := cfgFile
	if configPath == "" {
		configPath = findConfigFile(root)
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment config: %w", err)
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("failed to merge flag config: %w", err)
		}
	}

	cfg, err := decode(k)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config holding only the built-in defaults layer.
func Default() *Config {
	k := koanf.New(".")
	_ = k.Load(confmap.Provider(Defaults(), "."), nil)
	cfg, err := decode(k)
	if err != nil {
		// The static defaults map always decodes.
		panic(err)
	}
	return cfg
}

func decode(k *koanf.Koanf) (*Config, error) {
	var cfg Config
	// A custom decoder lets string keys carry comma-separated lists, so
	// QUARRY_BUILD__PATTERNS="BUILD,BUILD.bazel" fills a slice field.
	unmarshalConf := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}
	if err := k.UnmarshalWithConf("", &cfg, unmarshalConf); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// envKey turns QUARRY_BUILD__PRELUDE_GLOBS into build.prelude_globs.
// Single underscores stay part of the key name; only the double
// underscore nests.
func envKey(name string) string {
	name = strings.TrimPrefix(name, EnvPrefix)
	name = strings.ToLower(name)
	return strings.ReplaceAll(name, "__", ".")
}

// findConfigFile finds the config file in the given directory. Returns
// empty string if not found.
func findConfigFile(dir string) string {
	yamlPath := filepath.Join(dir, ConfigFileName)
	if _, err := os.Stat(yamlPath); err == nil {
		return yamlPath
	}

	ymlPath := filepath.Join(dir, ConfigFileNameAlt)
	if _, err := os.Stat(ymlPath); err == nil {
		return ymlPath
	}

	return ""
}

// FindBuildRoot walks up from startDir to the nearest directory holding a
// quarry.yaml or quarry.yml. Returns empty string if none is found.
func FindBuildRoot(startDir string) string {
	dir := startDir
	for {
		if findConfigFile(dir) != "" {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
