package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoaderOptions describes how configuration should be discovered. A config
// file is optional; every field also binds to its own environment variable
// with no prefix, matching the glossary in spec.md §6 exactly.
type LoaderOptions struct {
	ConfigPaths []string
	FileName    string
}

var envKeys = []string{
	"request_table", "task_table", "bucket_name", "task_sqs_url",
	"sns_topic_arn", "task_dispatcher_fun_name", "access_token",
	"bedrock_access_key", "bedrock_secret_key", "bedrock_region",
	"sqs_max_delay", "sqs_base_delay", "sqs_max_retries",
	"max_failed_times", "max_token_to_sample", "report_timeout_seconds",
	"top_p", "temperature", "default_mode", "default_model", "server_addr",
}

// Load returns the merged configuration from an optional file and the
// process environment; environment variables always win.
func Load(opts LoaderOptions) (Config, error) {
	v := viper.New()

	name := opts.FileName
	if name == "" {
		name = "review-orchestrator"
	}
	v.SetConfigName(name)
	for _, p := range opts.ConfigPaths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)
	for _, key := range envKeys {
		if err := v.BindEnv(key, strings.ToUpper(key)); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("sqs_max_delay", 300)
	v.SetDefault("sqs_base_delay", 60)
	v.SetDefault("sqs_max_retries", 5)
	v.SetDefault("max_failed_times", 6)
	v.SetDefault("max_token_to_sample", 10000)
	v.SetDefault("report_timeout_seconds", 900)
	v.SetDefault("top_p", 1.0)
	v.SetDefault("temperature", 0.0)
	v.SetDefault("default_mode", "all")
	v.SetDefault("default_model", "claude3")
	v.SetDefault("server_addr", ":8080")
}
