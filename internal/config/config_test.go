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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbstack/launcher/internal/registry"
)

// writeConfig writes a temp config file and returns its path
// writeConfig 写入临时配置文件并返回其路径
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestLoadDefaults tests that a missing config file yields pure defaults
// TestLoadDefaults 测试配置文件缺失时产生纯默认值
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultSpawnPolicy, cfg.Launcher.SpawnPolicy)
	assert.Equal(t, DefaultServiceLogDir, cfg.Launcher.ServiceLogDir)
	assert.True(t, cfg.Preflight.Enabled)
	assert.Equal(t, DefaultReadinessMode, cfg.Readiness.Mode)
	assert.Equal(t, DefaultReadinessDelay, cfg.Readiness.Delay)
	assert.Equal(t, DefaultReadinessTimeout, cfg.Readiness.Timeout)
	assert.Equal(t, DefaultPollInterval, cfg.Readiness.Interval)
	assert.Equal(t, DefaultGracePeriod, cfg.Shutdown.GracePeriod)
	assert.Equal(t, DefaultLogLevel, cfg.Log.Level)
	assert.False(t, cfg.API.Enabled)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Empty(t, cfg.Services)

	require.NoError(t, cfg.Validate())
}

// TestLoadFromFile tests loading overrides from a YAML file
// TestLoadFromFile 测试从 YAML 文件加载覆盖值
func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
launcher:
  spawn_policy: abort-phase
readiness:
  mode: delay
  delay: 2s
shutdown:
  grace_period: 15s
log:
  level: debug
api:
  enabled: true
  listen: "127.0.0.1:9999"
services:
  - name: worker-1
    command: python3
    args: ["server.py", "8001"]
    port: 8001
    phase: 1
  - name: dispatcher
    command: python3
    args: ["main.py"]
    port: 8080
    phase: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, SpawnPolicyAbortPhase, cfg.Launcher.SpawnPolicy)
	assert.Equal(t, ReadinessModeDelay, cfg.Readiness.Mode)
	assert.Equal(t, 2*time.Second, cfg.Readiness.Delay)
	assert.Equal(t, 15*time.Second, cfg.Shutdown.GracePeriod)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.API.Listen)

	require.Len(t, cfg.Services, 2)
	assert.Equal(t, []string{"server.py", "8001"}, cfg.Services[0].Args)

	// Defaults survive for untouched keys / 未触及的键保留默认值
	assert.Equal(t, DefaultServiceLogDir, cfg.Launcher.ServiceLogDir)
}

// TestLoadEnvOverride tests environment variable precedence over the file
// TestLoadEnvOverride 测试环境变量优先于文件
func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
log:
  level: info
`)
	t.Setenv("LAUNCHER_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

// TestValidateErrors tests rejection of invalid configurations
// TestValidateErrors 测试拒绝无效配置
func TestValidateErrors(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad spawn policy / 无效派生策略", func(c *Config) { c.Launcher.SpawnPolicy = "retry" }},
		{"bad readiness mode / 无效就绪门模式", func(c *Config) { c.Readiness.Mode = "sleep" }},
		{"negative delay / 负延迟", func(c *Config) { c.Readiness.Delay = -time.Second }},
		{"zero poll timeout / 轮询超时为零", func(c *Config) { c.Readiness.Timeout = 0 }},
		{"zero poll interval / 轮询间隔为零", func(c *Config) { c.Readiness.Interval = 0 }},
		{"zero grace period / 宽限期为零", func(c *Config) { c.Shutdown.GracePeriod = 0 }},
		{"bad log level / 无效日志级别", func(c *Config) { c.Log.Level = "verbose" }},
		{"duplicate service port / 服务端口重复", func(c *Config) {
			c.Services = []registry.ServiceSpec{
				{Name: "a", Command: "run", Port: 9000, Phase: 1},
				{Name: "b", Command: "run", Port: 9000, Phase: 1},
			}
		}},
		{"capability without executable / 能力缺少可执行文件", func(c *Config) {
			c.Preflight.Capabilities = []CapabilitySpec{{Name: "broken"}}
		}},
		{"api enabled without listen / 启用 API 但缺少监听地址", func(c *Config) {
			c.API.Enabled = true
			c.API.Listen = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// TestRegistryFallback tests the service registry selection
// TestRegistryFallback 测试服务注册表的选择
func TestRegistryFallback(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	// No override: compiled-in default set / 无覆盖：编译期内置集合
	r, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, 4, r.Len())

	// Override replaces the set entirely / 覆盖会完全替换集合
	cfg.Services = []registry.ServiceSpec{
		{Name: "solo", Command: "run", Port: 9000, Phase: 1},
	}
	r, err = cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, 1, r.Len())
}

// TestToYAMLRoundTrip tests that the effective config serializes and parses back
// TestToYAMLRoundTrip 测试生效配置可序列化并重新解析
func TestToYAMLRoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)

	out, err := cfg.ToYAML()
	require.NoError(t, err)
	assert.Contains(t, string(out), "spawn_policy: continue")
	assert.Contains(t, string(out), "mode: poll")

	reloaded, err := Load(writeConfig(t, string(out)))
	require.NoError(t, err)
	assert.Equal(t, cfg.Launcher.SpawnPolicy, reloaded.Launcher.SpawnPolicy)
	assert.Equal(t, cfg.Readiness.Mode, reloaded.Readiness.Mode)
}
