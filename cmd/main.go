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

// Package main is the entry point for the LBStack launcher.
// main 包是 LBStack 启动器的入口点。
//
// The launcher is a foreground process that:
// 启动器是一个前台进程，负责：
// - Verifies its own runtime dependencies with one-shot remediation / 验证自身运行时依赖并一次性补救
// - Launches the backend worker cluster, then the dispatcher / 先启动后端 worker 集群，再启动 dispatcher
// - Gates each phase on service readiness / 以服务就绪为每个阶段设门
// - Tears the whole process tree down on SIGINT/SIGTERM / 在 SIGINT/SIGTERM 时拆除整个进程树
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lbstack/launcher/internal/api"
	"github.com/lbstack/launcher/internal/config"
	"github.com/lbstack/launcher/internal/logging"
	"github.com/lbstack/launcher/internal/orchestrator"
)

// Version information, set at build time
// 版本信息，在构建时设置
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// rootCmd is the root command for the launcher CLI
// rootCmd 是启动器 CLI 的根命令
var rootCmd = &cobra.Command{
	Use:   "lbstack-launcher",
	Short: "LBStack Launcher - local orchestrator for the load-balancer stack",
	Long: `LBStack Launcher is a foreground orchestrator for a local load-balancer stack.
LBStack Launcher 是本机负载均衡服务栈的前台编排器。

It launches the stack in dependency order and owns its teardown:
它按依赖顺序启动服务栈并负责其拆除：
- Backend workers first, then the front-line dispatcher / 先启动后端 worker，再启动前端 dispatcher
- Readiness gating between phases / 阶段之间的就绪门
- Whole-tree termination on interrupt / 中断时终止整个进程树`,
	RunE:          runLauncher,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// versionCmd shows version information
// versionCmd 显示版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information / 打印版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("LBStack Launcher\n")
		fmt.Printf("  Version:    %s\n", Version)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Go Version: %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

// configCmd prints the effective configuration as YAML
// configCmd 以 YAML 打印生效配置
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration / 打印生效配置",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		out, err := cfg.ToYAML()
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

// configFile is the path to the configuration file
// configFile 是配置文件的路径
var configFile string

func init() {
	// Add flags to root command
	// 向根命令添加标志
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (default: /etc/lbstack-launcher/config.yaml)")

	// Add subcommands
	// 添加子命令
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// runLauncher is the main entry point for the launcher
// runLauncher 是启动器的主入口点
func runLauncher(cmd *cobra.Command, args []string) error {
	// Load configuration
	// 加载配置
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Validate configuration
	// 验证配置
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Build logger
	// 构建日志器
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	// Create orchestrator
	// 创建编排器
	orch, err := orchestrator.New(cfg, logger)
	if err != nil {
		return err
	}

	// Install termination handlers before the first launch; interrupt and
	// polite termination requests are treated identically
	// 在首次启动前安装终止处理器；中断请求与礼貌终止请求同等对待
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for sig := range sigChan {
			logger.Info("termination signal received", zap.String("signal", sig.String()))
			orch.Supervisor().RequestShutdown()
		}
	}()

	// Start the optional status API
	// 启动可选的状态 API
	if cfg.API.Enabled {
		statusAPI := api.New(cfg.API.Listen, orch.State(), logger)
		statusAPI.Start()
		defer statusAPI.Stop()
	}

	// Run the orchestration; only a preflight failure surfaces as an error
	// 运行编排；只有预检失败会以错误形式返回
	return orch.Run(context.Background())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
