package config

import (
	"os"
	"strconv"
	"time"
)

// DBConfig 数据库配置
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
}

// MQConfig 消息队列配置，URL 为空时不发布事件；DispatchQueue 非空时消费派发请求
type MQConfig struct {
	URL            string        `yaml:"url"`
	DispatchQueue  string        `yaml:"dispatch_queue"`
	ConnectionName string        `yaml:"connection_name"`
	Heartbeat      time.Duration `yaml:"heartbeat"`
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// JWTConfig JWT配置
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `yaml:"port"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ReminderConfig 提醒流水线配置
type ReminderConfig struct {
	APIKey   string `yaml:"api_key"`
	Timezone string `yaml:"timezone"`
}

// DispatchConfig 单次派发的行为
type DispatchConfig struct {
	SendTimeout  time.Duration `yaml:"send_timeout"`
	LeaseEnabled bool          `yaml:"lease_enabled"`
	LeaseWindow  time.Duration `yaml:"lease_window"`
}

// VAPIDConfig Web Push 密钥
type VAPIDConfig struct {
	PublicKey  string        `yaml:"public_key"`
	PrivateKey string        `yaml:"private_key"`
	Subject    string        `yaml:"subject"`
	TTL        int           `yaml:"ttl"`
	Icon       string        `yaml:"icon"`
	Badge      string        `yaml:"badge"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SMTPConfig 邮件发送配置
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	AppURL   string `yaml:"app_url"`
}

// AIConfig 内容生成模型配置，APIKey 为空时只用静态模板
type AIConfig struct {
	APIKey    string        `yaml:"api_key"`
	BaseURL   string        `yaml:"base_url"`
	Model     string        `yaml:"model"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ScheduleConfig 部署时固定的 cron 触发器
type ScheduleConfig struct {
	Name     string   `yaml:"name"`
	Cron     string   `yaml:"cron"`
	Occasion string   `yaml:"occasion"`
	Channels []string `yaml:"channels"`
}

// OverrideDBFromEnv 从环境变量覆盖数据库配置
func OverrideDBFromEnv(cfg *DBConfig) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.Name = name
	}
}

// OverrideMQFromEnv 从环境变量覆盖MQ配置
func OverrideMQFromEnv(cfg *MQConfig) {
	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.URL = url
	}
}

// OverrideRedisFromEnv 从环境变量覆盖Redis配置
func OverrideRedisFromEnv(cfg *RedisConfig) {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}
}

// OverrideJWTFromEnv 从环境变量覆盖JWT配置
func OverrideJWTFromEnv(cfg *JWTConfig) {
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Secret = secret
	}
}

// OverrideServerFromEnv 从环境变量覆盖服务器配置
func OverrideServerFromEnv(cfg *ServerConfig) {
	if port := os.Getenv("SERVER_PORT"); port != "" {
		cfg.Port = port
	}
}

// OverrideLogFromEnv 从环境变量覆盖日志配置
func OverrideLogFromEnv(cfg *LogConfig) {
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if file := os.Getenv("LOG_FILE"); file != "" {
		cfg.File = file
	}
}

// OverrideReminderFromEnv 覆盖 API key 和参考时区
func OverrideReminderFromEnv(cfg *ReminderConfig) {
	if key := os.Getenv("REMINDER_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if tz := os.Getenv("REMINDER_TIMEZONE"); tz != "" {
		cfg.Timezone = tz
	}
}

// OverrideVAPIDFromEnv 覆盖 VAPID 密钥对和联系邮箱
func OverrideVAPIDFromEnv(cfg *VAPIDConfig) {
	if pub := os.Getenv("VAPID_PUBLIC_KEY"); pub != "" {
		cfg.PublicKey = pub
	}
	if priv := os.Getenv("VAPID_PRIVATE_KEY"); priv != "" {
		cfg.PrivateKey = priv
	}
	if subject := os.Getenv("VAPID_SUBJECT"); subject != "" {
		cfg.Subject = subject
	}
}

// OverrideSMTPFromEnv 覆盖 SMTP 配置
func OverrideSMTPFromEnv(cfg *SMTPConfig) {
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.Username = user
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if from := os.Getenv("SMTP_FROM"); from != "" {
		cfg.From = from
	}
}

// OverrideAIFromEnv 覆盖 AI 配置
func OverrideAIFromEnv(cfg *AIConfig) {
	if key := os.Getenv("AI_API_KEY"); key != "" {
		cfg.APIKey = key
	}
	if model := os.Getenv("AI_MODEL"); model != "" {
		cfg.Model = model
	}
}
