// Package config loads the orchestrator's environment-variable surface
// (spec.md §6) the way the teacher's viper-based loader does: defaults set
// before read, AutomaticEnv, with secret-bearing fields left for the
// process environment rather than committed to a file.
package config

import "time"

// Config is the full set of knobs every component handler reads. Every
// field is optional with the default shown in spec.md §6.
type Config struct {
	RequestTable         string `mapstructure:"request_table"`
	TaskTable            string `mapstructure:"task_table"`
	BucketName           string `mapstructure:"bucket_name"`
	TaskSQSURL           string `mapstructure:"task_sqs_url"`
	SNSTopicARN          string `mapstructure:"sns_topic_arn"`
	TaskDispatcherFunName string `mapstructure:"task_dispatcher_fun_name"`

	AccessToken string `mapstructure:"access_token"`

	BedrockAccessKey string `mapstructure:"bedrock_access_key"`
	BedrockSecretKey string `mapstructure:"bedrock_secret_key"`
	BedrockRegion    string `mapstructure:"bedrock_region"`

	SQSMaxDelay   int `mapstructure:"sqs_max_delay"`
	SQSBaseDelay  int `mapstructure:"sqs_base_delay"`
	SQSMaxRetries int `mapstructure:"sqs_max_retries"`

	MaxFailedTimes      int `mapstructure:"max_failed_times"`
	MaxTokenToSample    int `mapstructure:"max_token_to_sample"`
	ReportTimeoutSeconds int `mapstructure:"report_timeout_seconds"`

	TopP        float64 `mapstructure:"top_p"`
	Temperature float64 `mapstructure:"temperature"`

	DefaultMode  string `mapstructure:"default_mode"`
	DefaultModel string `mapstructure:"default_model"`

	ServerAddr string `mapstructure:"server_addr"`
}

// SQSBaseDelayDuration returns SQSBaseDelay as a time.Duration in seconds.
func (c Config) SQSBaseDelayDuration() time.Duration {
	return time.Duration(c.SQSBaseDelay) * time.Second
}

// SQSMaxDelayDuration returns SQSMaxDelay as a time.Duration in seconds.
func (c Config) SQSMaxDelayDuration() time.Duration {
	return time.Duration(c.SQSMaxDelay) * time.Second
}

// ReportTimeout returns ReportTimeoutSeconds as a time.Duration.
func (c Config) ReportTimeout() time.Duration {
	return time.Duration(c.ReportTimeoutSeconds) * time.Second
}
