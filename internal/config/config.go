/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config provides configuration management for the launcher.
// config 包提供启动器的配置管理功能。
//
// Configuration loading priority (highest to lowest):
// 配置加载优先级（从高到低）：
// 1. Environment variables / 环境变量
// 2. Configuration file / 配置文件
// 3. Default values / 默认值
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/lbstack/launcher/internal/registry"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Default configuration values
// 默认配置值
const (
	DefaultConfigPath       = "/etc/lbstack-launcher/config.yaml"
	DefaultSpawnPolicy      = "continue"
	DefaultServiceLogDir    = "/var/log/lbstack-launcher/services"
	DefaultReadinessMode    = "poll"
	DefaultReadinessDelay   = 5 * time.Second
	DefaultReadinessTimeout = 30 * time.Second
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultGracePeriod      = 10 * time.Second
	DefaultLogLevel         = "info"
	DefaultLogFile          = "/var/log/lbstack-launcher/launcher.log"
	DefaultLogMaxSize       = 100 // MB
	DefaultLogMaxBackups    = 3
	DefaultLogMaxAge        = 7 // days
	DefaultAPIListen        = "127.0.0.1:9400"
)

// Spawn policies for handling a failed launch within a phase
// 处理阶段内启动失败的派生策略
const (
	// SpawnPolicyContinue keeps attempting the remaining launches
	// SpawnPolicyContinue 继续尝试剩余的启动
	SpawnPolicyContinue = "continue"

	// SpawnPolicyAbortPhase skips the rest of the failing phase only
	// SpawnPolicyAbortPhase 仅跳过失败阶段的其余启动
	SpawnPolicyAbortPhase = "abort-phase"

	// SpawnPolicyAbortAll skips all remaining launches
	// SpawnPolicyAbortAll 跳过所有剩余的启动
	SpawnPolicyAbortAll = "abort-all"
)

// Readiness gate modes
// 就绪门模式
const (
	// ReadinessModeDelay is the fixed-sleep gate
	// ReadinessModeDelay 是固定休眠的就绪门
	ReadinessModeDelay = "delay"

	// ReadinessModePoll dials each service port until ready or timeout
	// ReadinessModePoll 轮询拨号每个服务端口直到就绪或超时
	ReadinessModePoll = "poll"
)

// Config represents the launcher configuration
// Config 表示启动器配置
type Config struct {
	// Launcher configuration / 启动器配置
	Launcher LauncherConfig `mapstructure:"launcher" yaml:"launcher"`

	// Preflight configuration / 预检配置
	Preflight PreflightConfig `mapstructure:"preflight" yaml:"preflight"`

	// Readiness gate configuration / 就绪门配置
	Readiness ReadinessConfig `mapstructure:"readiness" yaml:"readiness"`

	// Shutdown configuration / 关闭配置
	Shutdown ShutdownConfig `mapstructure:"shutdown" yaml:"shutdown"`

	// Services overrides the compiled-in service registry when non-empty
	// Services 非空时覆盖编译期内置的服务注册表
	Services []registry.ServiceSpec `mapstructure:"services" yaml:"services,omitempty"`

	// Log configuration / 日志配置
	Log LogConfig `mapstructure:"log" yaml:"log"`

	// API configuration / API 配置
	API APIConfig `mapstructure:"api" yaml:"api"`
}

// LauncherConfig contains process-launch settings
// LauncherConfig 包含进程启动设置
type LauncherConfig struct {
	// SpawnPolicy decides what a failed launch does to the remaining sequence
	// SpawnPolicy 决定启动失败对剩余启动序列的影响
	SpawnPolicy string `mapstructure:"spawn_policy" yaml:"spawn_policy"`

	// ServiceLogDir is where per-service stdout/stderr logs are written
	// ServiceLogDir 是每个服务 stdout/stderr 日志的写入目录
	ServiceLogDir string `mapstructure:"service_log_dir" yaml:"service_log_dir"`

	// WorkDir is the working directory for launched services (optional)
	// WorkDir 是所启动服务的工作目录（可选）
	WorkDir string `mapstructure:"work_dir" yaml:"work_dir,omitempty"`
}

// CapabilitySpec describes one capability the launcher itself requires
// CapabilitySpec 描述启动器自身需要的一项能力
type CapabilitySpec struct {
	// Name is the capability name (for logs and errors)
	// Name 是能力名称（用于日志和错误）
	Name string `mapstructure:"name" yaml:"name"`

	// Executable must resolve on PATH
	// Executable 必须能在 PATH 上解析
	Executable string `mapstructure:"executable" yaml:"executable"`

	// ProbeArgs, when set, are run against the executable; exit 0 means present
	// ProbeArgs 非空时会对可执行文件运行；退出码 0 表示能力存在
	ProbeArgs []string `mapstructure:"probe_args" yaml:"probe_args,omitempty"`

	// Remedy is the one-shot remediation command (command + args)
	// Remedy 是一次性补救命令（命令 + 参数）
	Remedy []string `mapstructure:"remedy" yaml:"remedy,omitempty"`
}

// PreflightConfig contains dependency preflight settings
// PreflightConfig 包含依赖预检设置
type PreflightConfig struct {
	// Enabled toggles the preflight check
	// Enabled 控制是否执行预检
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Capabilities overrides the compiled-in capability list when non-empty
	// Capabilities 非空时覆盖编译期内置的能力列表
	Capabilities []CapabilitySpec `mapstructure:"capabilities" yaml:"capabilities,omitempty"`
}

// ReadinessConfig contains readiness gate settings
// ReadinessConfig 包含就绪门设置
type ReadinessConfig struct {
	// Mode is "poll" or "delay"
	// Mode 为 "poll" 或 "delay"
	Mode string `mapstructure:"mode" yaml:"mode"`

	// Delay is the gate duration in delay mode
	// Delay 是 delay 模式下的门延迟时长
	Delay time.Duration `mapstructure:"delay" yaml:"delay"`

	// Timeout bounds the poll-mode wait per phase
	// Timeout 限定 poll 模式下每个阶段的等待时长
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// Interval is the poll-mode dial interval
	// Interval 是 poll 模式的拨号间隔
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

// ShutdownConfig contains teardown settings
// ShutdownConfig 包含拆除设置
type ShutdownConfig struct {
	// GracePeriod is how long to wait after SIGTERM before SIGKILL
	// GracePeriod 是发送 SIGTERM 后等待多久再发送 SIGKILL
	GracePeriod time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
}

// LogConfig contains logging settings
// LogConfig 包含日志设置
type LogConfig struct {
	// Level is the log level (debug, info, warn, error)
	// Level 是日志级别（debug, info, warn, error）
	Level string `mapstructure:"level" yaml:"level"`

	// File is the log file path; empty logs to stderr only
	// File 是日志文件路径；为空时仅输出到 stderr
	File string `mapstructure:"file" yaml:"file"`

	// MaxSize is the maximum size of log file in MB before rotation
	// MaxSize 是日志文件轮转前的最大大小（MB）
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`

	// MaxBackups is the maximum number of old log files to retain
	// MaxBackups 是保留的旧日志文件的最大数量
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`

	// MaxAge is the maximum number of days to retain old log files
	// MaxAge 是保留旧日志文件的最大天数
	MaxAge int `mapstructure:"max_age" yaml:"max_age"`
}

// APIConfig contains status API settings
// APIConfig 包含状态 API 设置
type APIConfig struct {
	// Enabled toggles the local status API
	// Enabled 控制是否启用本地状态 API
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Listen is the host:port the API binds to
	// Listen 是 API 绑定的 host:port
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Load loads configuration from file and environment variables
// Load 从文件和环境变量加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default values / 设置默认值
	setDefaults(v)

	// Set config file path / 设置配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Check environment variable / 检查环境变量
		envPath := os.Getenv("LAUNCHER_CONFIG_PATH")
		if envPath != "" {
			v.SetConfigFile(envPath)
		} else {
			v.SetConfigFile(DefaultConfigPath)
		}
	}

	// Enable environment variable override / 启用环境变量覆盖
	v.SetEnvPrefix("LAUNCHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file / 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error if we have defaults
		// 如果有默认值，配置文件未找到不是错误
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// Check if file exists / 检查文件是否存在
			if _, statErr := os.Stat(v.ConfigFileUsed()); statErr == nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, use defaults / 文件不存在，使用默认值
		}
	}

	// Unmarshal config / 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// Launcher defaults / 启动器默认值
	v.SetDefault("launcher.spawn_policy", DefaultSpawnPolicy)
	v.SetDefault("launcher.service_log_dir", DefaultServiceLogDir)
	v.SetDefault("launcher.work_dir", "")

	// Preflight defaults / 预检默认值
	v.SetDefault("preflight.enabled", true)

	// Readiness defaults / 就绪门默认值
	v.SetDefault("readiness.mode", DefaultReadinessMode)
	v.SetDefault("readiness.delay", DefaultReadinessDelay)
	v.SetDefault("readiness.timeout", DefaultReadinessTimeout)
	v.SetDefault("readiness.interval", DefaultPollInterval)

	// Shutdown defaults / 关闭默认值
	v.SetDefault("shutdown.grace_period", DefaultGracePeriod)

	// Log defaults / 日志默认值
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.max_size", DefaultLogMaxSize)
	v.SetDefault("log.max_backups", DefaultLogMaxBackups)
	v.SetDefault("log.max_age", DefaultLogMaxAge)

	// API defaults / API 默认值
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.listen", DefaultAPIListen)
}

// Validate validates the configuration
// Validate 验证配置
func (c *Config) Validate() error {
	// Validate spawn policy / 验证派生策略
	switch c.Launcher.SpawnPolicy {
	case SpawnPolicyContinue, SpawnPolicyAbortPhase, SpawnPolicyAbortAll:
	default:
		return fmt.Errorf("invalid launcher.spawn_policy: %s (must be %s, %s, or %s)",
			c.Launcher.SpawnPolicy, SpawnPolicyContinue, SpawnPolicyAbortPhase, SpawnPolicyAbortAll)
	}

	// Validate readiness mode / 验证就绪门模式
	switch c.Readiness.Mode {
	case ReadinessModeDelay, ReadinessModePoll:
	default:
		return fmt.Errorf("invalid readiness.mode: %s (must be %s or %s)",
			c.Readiness.Mode, ReadinessModeDelay, ReadinessModePoll)
	}
	if c.Readiness.Delay < 0 {
		return errors.New("readiness.delay must not be negative")
	}
	if c.Readiness.Mode == ReadinessModePoll {
		if c.Readiness.Timeout <= 0 {
			return errors.New("readiness.timeout must be positive in poll mode")
		}
		if c.Readiness.Interval <= 0 {
			return errors.New("readiness.interval must be positive in poll mode")
		}
	}

	// Validate shutdown grace period / 验证关闭宽限期
	if c.Shutdown.GracePeriod <= 0 {
		return errors.New("shutdown.grace_period must be positive")
	}

	// Validate log level / 验证日志级别
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	// Validate service overrides / 验证服务覆盖
	if len(c.Services) > 0 {
		if _, err := registry.New(c.Services); err != nil {
			return fmt.Errorf("invalid services: %w", err)
		}
	}

	// Validate capability overrides / 验证能力覆盖
	for _, capability := range c.Preflight.Capabilities {
		if capability.Name == "" {
			return errors.New("preflight capability name is required")
		}
		if capability.Executable == "" {
			return fmt.Errorf("preflight capability %s: executable is required", capability.Name)
		}
	}

	// Validate API listen address / 验证 API 监听地址
	if c.API.Enabled && c.API.Listen == "" {
		return errors.New("api.listen is required when api.enabled is true")
	}

	return nil
}

// Registry builds the effective service registry: the config override
// when present, otherwise the compiled-in default set.
// Registry 构建生效的服务注册表：配置覆盖存在时使用覆盖，
// 否则使用编译期内置的默认集合。
func (c *Config) Registry() (*registry.Registry, error) {
	if len(c.Services) == 0 {
		return registry.Default(), nil
	}
	return registry.New(c.Services)
}

// String returns a string representation of the config (for debugging)
// String 返回配置的字符串表示（用于调试）
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{SpawnPolicy: %s, Readiness.Mode: %s, Shutdown.GracePeriod: %v, Log.Level: %s, API.Enabled: %t}",
		c.Launcher.SpawnPolicy,
		c.Readiness.Mode,
		c.Shutdown.GracePeriod,
		c.Log.Level,
		c.API.Enabled,
	)
}

// ToYAML serializes the effective configuration to YAML
// ToYAML 将生效配置序列化为 YAML
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}
