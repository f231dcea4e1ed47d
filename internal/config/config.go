package config

import (
	"fmt"
	"time"

	"reminder-service/pkg/config"
)

type Config struct {
	DB        config.DBConfig         `yaml:"db"`
	MQ        config.MQConfig         `yaml:"mq"`
	Redis     config.RedisConfig      `yaml:"redis"`
	JWT       config.JWTConfig        `yaml:"jwt"`
	Server    config.ServerConfig     `yaml:"server"`
	Log       config.LogConfig        `yaml:"log"`
	Reminder  config.ReminderConfig   `yaml:"reminder"`
	Dispatch  config.DispatchConfig   `yaml:"dispatch"`
	VAPID     config.VAPIDConfig      `yaml:"vapid"`
	SMTP      config.SMTPConfig       `yaml:"smtp"`
	AI        config.AIConfig         `yaml:"ai"`
	Schedules []config.ScheduleConfig `yaml:"schedules"`
}

// Load 读取 config/base.yaml + config/<env>.yaml + secrets.env，再用环境变量覆盖
func Load(env, configDir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	config.OverrideReminderFromEnv(&cfg.Reminder)
	config.OverrideVAPIDFromEnv(&cfg.VAPID)
	config.OverrideSMTPFromEnv(&cfg.SMTP)
	config.OverrideAIFromEnv(&cfg.AI)

	applyDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault 按 CONFIG_ENV / CONFIG_DIR 加载
func LoadDefault() (*Config, error) {
	return Load(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Reminder.Timezone == "" {
		cfg.Reminder.Timezone = "America/New_York"
	}
	if cfg.Dispatch.SendTimeout <= 0 {
		cfg.Dispatch.SendTimeout = 15 * time.Second
	}
	if cfg.Dispatch.LeaseWindow <= 0 {
		cfg.Dispatch.LeaseWindow = 10 * time.Minute
	}
	if cfg.VAPID.TTL <= 0 {
		cfg.VAPID.TTL = 3600
	}
	if cfg.VAPID.Timeout <= 0 {
		cfg.VAPID.Timeout = 10 * time.Second
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.AI.Timeout <= 0 {
		cfg.AI.Timeout = 5 * time.Second
	}
	if cfg.AI.MaxTokens <= 0 {
		cfg.AI.MaxTokens = 150
	}
}

// Location 参考时区
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Reminder.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid reminder timezone %q: %w", c.Reminder.Timezone, err)
	}
	return loc, nil
}
