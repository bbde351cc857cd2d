package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the process-level configuration. Per-user settings stored with the
// user record override the AI section at resolution time.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Data      DataConfig      `mapstructure:"data"`
	AI        AIConfig        `mapstructure:"ai"`
	Mailbox   MailboxConfig   `mapstructure:"mailbox"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DataConfig struct {
	// UsersDir holds user_data.json, username_mapping.json and the per-user
	// email data files.
	UsersDir string `mapstructure:"users_dir"`
	// KnowledgeDir holds the plain-text knowledge base documents.
	KnowledgeDir string `mapstructure:"knowledge_dir"`
	// VectorDir is the parent of the dimension-keyed db_{dim} directories.
	VectorDir string `mapstructure:"vector_dir"`
}

type AIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	APIBase        string `mapstructure:"api_base"`
	ReplyModel     string `mapstructure:"reply_model"`
	EmbeddingModel string `mapstructure:"embedding_model"`
}

type MailboxConfig struct {
	IMAPHost string `mapstructure:"imap_host"`
	IMAPPort int    `mapstructure:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
}

type RateLimitConfig struct {
	SendIntervalSeconds int `mapstructure:"send_interval_seconds"`
	PerHalfHour         int `mapstructure:"per_half_hour"`
	PerHour             int `mapstructure:"per_hour"`
}

// LoadConfig reads the optional config file, then the environment. Environment
// variables win, matching the original deployment where everything came from
// .env.
func LoadConfig(configFile string) (*Config, error) {
	// Best-effort: a missing .env is the common case in containers.
	_ = godotenv.Load()

	v := viper.New()
	v.SetDefault("http.addr", ":8000")
	v.SetDefault("data.users_dir", "data/users")
	v.SetDefault("data.knowledge_dir", "data")
	v.SetDefault("data.vector_dir", ".")
	v.SetDefault("ai.api_base", "https://api.siliconflow.cn/v1")
	v.SetDefault("ai.reply_model", "moonshotai/Kimi-K2-Thinking")
	v.SetDefault("ai.embedding_model", "Qwen/Qwen3-Embedding-4B")
	v.SetDefault("mailbox.imap_host", "imap.qq.com")
	v.SetDefault("mailbox.imap_port", 993)
	v.SetDefault("mailbox.smtp_host", "smtp.qq.com")
	v.SetDefault("mailbox.smtp_port", 465)
	v.SetDefault("rate_limit.send_interval_seconds", 30)
	v.SetDefault("rate_limit.per_half_hour", 10)
	v.SetDefault("rate_limit.per_hour", 20)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy env names used by the original deployment.
	_ = v.BindEnv("ai.api_key", "SILICONFLOW_API_KEY")
	_ = v.BindEnv("ai.reply_model", "REPLY_MODEL")
	_ = v.BindEnv("ai.embedding_model", "EMBEDDING_MODEL")
	_ = v.BindEnv("data.knowledge_dir", "KNOWLEDGE_DATA_DIR")
	_ = v.BindEnv("data.users_dir", "DATA_DIR")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}
