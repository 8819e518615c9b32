package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	DevTools struct {
		URL     string   `yaml:"url"`
		Targets []string `yaml:"targets"`
	} `yaml:"devtools"`

	Idle struct {
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"idle"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.Idle.Timeout = 20000 * time.Millisecond
	c.Sqlite.Dsn = "kioskguard.sqlite3"
	c.Sqlite.Prefix = "kioskguard_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "logs/kioskguard.log"
	return c
}

// Load 读取 YAML 配置，未出现的字段保留默认值；path 为空时返回默认配置
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.DevTools.URL == "" {
		return errors.New("devtools.url 不能为空")
	}
	if c.Idle.Timeout <= 0 {
		return fmt.Errorf("idle.timeout 必须为正数: %s", c.Idle.Timeout)
	}
	return nil
}
