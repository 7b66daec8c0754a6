package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/anonymizer/internal/engine"
	"github.com/mesh-intelligence/anonymizer/internal/logger"
	"github.com/mesh-intelligence/anonymizer/internal/pseudonym"
	"github.com/mesh-intelligence/anonymizer/internal/recognizer"
	"github.com/mesh-intelligence/anonymizer/internal/runner"
	"github.com/mesh-intelligence/anonymizer/pkg/types"
)

const (
	configFileName = "config"
	configFileType = "yaml"
	configFileExt  = "config.yaml"

	envPrefix = "ANON"

	// configKeyAnnotation marks a flag as an override for a config key.
	configKeyAnnotation = "anon/config-key"
)

// Settings is the full configuration, read from config.yaml, ANON_*
// environment variables and flags.
type Settings struct {
	Store      StoreSettings      `mapstructure:"store" yaml:"store"`
	Secret     SecretSettings     `mapstructure:"secret" yaml:"secret"`
	Recognizer RecognizerSettings `mapstructure:"recognizer" yaml:"recognizer"`
	Normalize  NormalizeSettings  `mapstructure:"normalize" yaml:"normalize"`
	Anonymize  AnonymizeSettings  `mapstructure:"anonymize" yaml:"anonymize"`
	OutputDir  string             `mapstructure:"output_dir" yaml:"output_dir"`
	ReportDir  string             `mapstructure:"report_dir" yaml:"report_dir"`
	Log        LogSettings        `mapstructure:"log" yaml:"log"`
}

type StoreSettings struct {
	Backend    string `mapstructure:"backend" yaml:"backend"`
	Driver     string `mapstructure:"driver" yaml:"driver"`
	DataDir    string `mapstructure:"data_dir" yaml:"data_dir"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
}

type SecretSettings struct {
	Env  string `mapstructure:"env" yaml:"env"`
	KDF  string `mapstructure:"kdf" yaml:"kdf"`
	Salt string `mapstructure:"salt" yaml:"salt"`
}

type RecognizerSettings struct {
	Oracle    string         `mapstructure:"oracle" yaml:"oracle"`
	Threshold float64        `mapstructure:"threshold" yaml:"threshold"`
	CacheSize int            `mapstructure:"cache_size" yaml:"cache_size"`
	Ollama    OllamaSettings `mapstructure:"ollama" yaml:"ollama"`
	ONNX      ONNXSettings   `mapstructure:"onnx" yaml:"onnx"`
}

type OllamaSettings struct {
	Endpoint string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model    string        `mapstructure:"model" yaml:"model"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type ONNXSettings struct {
	ModelDir    string `mapstructure:"model_dir" yaml:"model_dir"`
	SeqLen      int    `mapstructure:"seq_len" yaml:"seq_len"`
	LibraryPath string `mapstructure:"library_path" yaml:"library_path"`
	LowerCase   bool   `mapstructure:"lowercase" yaml:"lowercase"`
}

type NormalizeSettings struct {
	CaseFold []string `mapstructure:"case_fold" yaml:"case_fold"`
}

type AnonymizeSettings struct {
	Language   string   `mapstructure:"language" yaml:"language"`
	SlugLength int      `mapstructure:"slug_length" yaml:"slug_length"`
	Preserve   []string `mapstructure:"preserve" yaml:"preserve"`
	AllowList  []string `mapstructure:"allow_list" yaml:"allow_list"`
	Workers    int      `mapstructure:"workers" yaml:"workers"`
}

type LogSettings struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Oracle names accepted by recognizer.oracle.
const (
	OracleNone   = "none"
	OracleOllama = "ollama"
	OracleONNX   = "onnx"
)

// DefaultSettings returns the configuration used when nothing overrides it.
func DefaultSettings() Settings {
	return Settings{
		Store: StoreSettings{
			Backend:    types.BackendSQLite,
			Driver:     types.DriverModernc,
			MaxRetries: types.DefaultMaxRetries,
		},
		Secret: SecretSettings{
			Env:  pseudonym.DefaultKeyEnv,
			KDF:  pseudonym.KDFNone,
			Salt: "anon-entity-store",
		},
		Recognizer: RecognizerSettings{
			Oracle:    OracleNone,
			Threshold: engine.DefaultThreshold,
			CacheSize: 1024,
			Ollama: OllamaSettings{
				Endpoint: "http://localhost:11434",
				Model:    "qwen2.5:3b",
				Timeout:  30 * time.Second,
			},
			ONNX: ONNXSettings{SeqLen: 128},
		},
		Normalize: NormalizeSettings{CaseFold: pseudonym.DefaultFoldPolicy().Types()},
		Anonymize: AnonymizeSettings{
			Language:   recognizer.DefaultLanguage,
			SlugLength: pseudonym.HashLen,
			Preserve:   []string{},
			AllowList:  []string{},
			Workers:    runner.DefaultWorkers,
		},
		OutputDir: "output",
		ReportDir: "logs",
		Log:       LogSettings{Level: "info", Format: logger.FormatConsole},
	}
}

// setDefaults registers every key of DefaultSettings with v so environment
// variables can override keys that no config file mentions.
func setDefaults(v *viper.Viper) error {
	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return err
	}
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for k, val := range m {
			key := k
			if prefix != "" {
				key = prefix + "." + k
			}
			if sub, ok := val.(map[string]any); ok {
				walk(key, sub)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// loadConfig reads config.yaml from configDir, writing a default file on
// first run, and layers ANON_* environment variables and annotated flags of
// cmd on top. A missing config.yaml is not an error.
func loadConfig(configDir string, cmd *cobra.Command) (*viper.Viper, Settings, error) {
	var s Settings
	if err := ensureConfigDir(configDir); err != nil {
		return nil, s, fmt.Errorf("ensure config dir: %w", err)
	}
	if err := ensureDefaultConfigFile(configDir); err != nil {
		return nil, s, fmt.Errorf("ensure default config: %w", err)
	}

	v := viper.New()
	if err := setDefaults(v); err != nil {
		return nil, s, fmt.Errorf("config defaults: %w", err)
	}
	v.SetConfigName(configFileName)
	v.SetConfigType(configFileType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, s, fmt.Errorf("read config: %w", err)
		}
	}

	if cmd != nil {
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if keys, ok := f.Annotations[configKeyAnnotation]; ok && bindErr == nil {
				bindErr = v.BindPFlag(keys[0], f)
			}
		})
		if bindErr != nil {
			return nil, s, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if err := v.Unmarshal(&s); err != nil {
		return nil, s, fmt.Errorf("decode config: %w", err)
	}
	return v, s, nil
}

// bindFlag ties a flag to a config key; an explicitly set flag wins over
// config.yaml and the environment.
func bindFlag(fs *pflag.FlagSet, name, key string) {
	_ = fs.SetAnnotation(name, configKeyAnnotation, []string{key})
}

func ensureConfigDir(configDir string) error {
	return os.MkdirAll(configDir, 0o755)
}

// ensureDefaultConfigFile writes config.yaml with DefaultSettings when the
// file does not exist. An existing file is left alone.
func ensureDefaultConfigFile(configDir string) error {
	path := filepath.Join(configDir, configFileExt)
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}
	data, err := yaml.Marshal(DefaultSettings())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# anon configuration. Every key can be overridden with ANON_<KEY>,\n# for example ANON_STORE_BACKEND=bolt.\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}
