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

// Package launcher spawns the stack's services as child processes and
// registers a handle for each successful spawn.
// launcher 包将服务栈的服务派生为子进程，并为每次成功派生注册句柄。
//
// This package provides:
// 此包提供：
// - Child process spawn with its own process group / 在独立进程组中派生子进程
// - Per-service stdout/stderr log capture / 每个服务的 stdout/stderr 日志捕获
// - Atomic handle registration before return / 返回前的原子句柄注册
// - Exit observation with crash logging / 退出观察与崩溃日志
package launcher

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lbstack/launcher/internal/config"
	"github.com/lbstack/launcher/internal/registry"
	"github.com/lbstack/launcher/internal/state"
)

// Common errors for process launching
// 进程启动的常见错误
var (
	// ErrSpawnFailed indicates the child process could not be spawned
	// ErrSpawnFailed 表示无法派生子进程
	ErrSpawnFailed = errors.New("failed to spawn process")

	// ErrLaunchRejected indicates shutdown began before the launch completed
	// ErrLaunchRejected 表示启动完成前关闭已开始
	ErrLaunchRejected = errors.New("launch rejected: shutdown in progress")
)

// ExitHandler is called once per child when its exit is observed
// ExitHandler 在观察到每个子进程退出时被调用一次
type ExitHandler func(h *state.ProcessHandle)

// Launcher spawns service specs into tracked child processes.
// Launcher 将服务规格派生为被跟踪的子进程。
//
// It never waits for a child's internal startup logic; readiness is the
// gate's concern.
// 它从不等待子进程的内部启动逻辑；就绪由就绪门负责。
type Launcher struct {
	// st is the shared orchestrator state receiving the handles
	// st 是接收句柄的共享编排器状态
	st *state.OrchestratorState

	// serviceLogDir is where per-service logs are written
	// serviceLogDir 是每个服务日志的写入目录
	serviceLogDir string

	// workDir is the working directory for launched services (optional)
	// workDir 是所启动服务的工作目录（可选）
	workDir string

	// logger is the structured logger
	// logger 是结构化日志器
	logger *zap.Logger

	// onExit is invoked from the watcher goroutine after exit observation
	// onExit 在退出观察后从观察 goroutine 中调用
	onExit ExitHandler

	// wg tracks watcher goroutines
	// wg 跟踪观察 goroutine
	wg sync.WaitGroup

	// mu protects onExit
	// mu 保护 onExit
	mu sync.RWMutex
}

// New creates a Launcher writing into the given state object
// New 创建一个写入给定状态对象的 Launcher
func New(st *state.OrchestratorState, cfg config.LauncherConfig, logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{
		st:            st,
		serviceLogDir: cfg.ServiceLogDir,
		workDir:       cfg.WorkDir,
		logger:        logger,
	}
}

// SetExitHandler sets the callback invoked when a child's exit is observed
// SetExitHandler 设置观察到子进程退出时调用的回调
func (l *Launcher) SetExitHandler(handler ExitHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onExit = handler
}

// Launch spawns the spec as a child process and registers its handle.
// On success the handle is registered before Launch returns, so there is
// no window where a spawned process exists untracked. On failure nothing
// is registered.
// Launch 将规格派生为子进程并注册其句柄。
// 成功时句柄在 Launch 返回前完成注册，不存在已派生进程未被跟踪的窗口。
// 失败时不注册任何内容。
func (l *Launcher) Launch(spec registry.ServiceSpec) (*state.ProcessHandle, error) {
	if spec.Command == "" {
		return nil, fmt.Errorf("%w: %s: empty command", ErrSpawnFailed, spec.Name)
	}
	if l.st.ShutdownRequested() {
		return nil, fmt.Errorf("%w: %s", ErrLaunchRejected, spec.Name)
	}

	// Set up per-service log capture / 设置每个服务的日志捕获
	logWriter, logPath, err := l.openServiceLog(spec.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, spec.Name, err)
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Dir = l.workDir
	cmd.Stdout = logWriter
	cmd.Stderr = logWriter

	// Children get their own process group so the supervisor can signal
	// the whole group at teardown
	// 子进程拥有独立进程组，便于 supervisor 在拆除时向整组发信号
	setProcGroupAttr(cmd)

	if err := cmd.Start(); err != nil {
		logWriter.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, spec.Name, err)
	}

	handle := state.NewHandle(spec, cmd.Process.Pid)
	if err := l.st.Register(handle); err != nil {
		// Shutdown began between the check and the spawn: do not leave an
		// untracked child behind
		// 检查与派生之间关闭已开始：不留下未被跟踪的子进程
		_ = cmd.Process.Kill()
		go func() { _ = cmd.Wait() }()
		logWriter.Close()
		return nil, fmt.Errorf("%w: %s", ErrLaunchRejected, spec.Name)
	}

	l.logger.Info("service launched",
		zap.String("service", spec.Name),
		zap.Int("phase", spec.Phase),
		zap.Int("port", spec.Port),
		zap.Int("pid", handle.PID),
		zap.String("log", logPath))

	// Observe the exit asynchronously / 异步观察进程退出
	l.wg.Add(1)
	go l.watch(handle, cmd, logWriter)

	return handle, nil
}

// watch waits for the child to exit and records the observation
// watch 等待子进程退出并记录观察结果
func (l *Launcher) watch(handle *state.ProcessHandle, cmd *exec.Cmd, logWriter *os.File) {
	defer l.wg.Done()
	defer logWriter.Close()

	err := cmd.Wait()
	handle.MarkTerminated(err)

	if l.st.ShutdownRequested() {
		l.logger.Info("service exited during shutdown",
			zap.String("service", handle.Spec.Name),
			zap.Int("pid", handle.PID))
	} else {
		// A crash outside shutdown is logged, never promoted to a fatal
		// condition that kills siblings
		// 关闭流程之外的崩溃仅记录日志，绝不升级为杀死兄弟进程的致命条件
		l.logger.Warn("service exited unexpectedly",
			zap.String("service", handle.Spec.Name),
			zap.Int("pid", handle.PID),
			zap.Duration("uptime", handle.Uptime()),
			zap.Error(err))
	}

	l.mu.RLock()
	handler := l.onExit
	l.mu.RUnlock()
	if handler != nil {
		handler(handle)
	}
}

// WaitWatchers blocks until every exit observation has completed
// WaitWatchers 阻塞直到所有退出观察完成
func (l *Launcher) WaitWatchers() {
	l.wg.Wait()
}

// openServiceLog creates the per-service log file
// openServiceLog 创建每个服务的日志文件
func (l *Launcher) openServiceLog(name string) (*os.File, string, error) {
	if err := os.MkdirAll(l.serviceLogDir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create service log dir: %w", err)
	}
	logPath := filepath.Join(l.serviceLogDir,
		fmt.Sprintf("%s-%s.log", name, time.Now().Format("20060102-150405")))
	f, err := os.Create(logPath)
	if err != nil {
		return nil, "", fmt.Errorf("create service log file: %w", err)
	}
	return f, logPath, nil
}
