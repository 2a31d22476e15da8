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

// Package supervisor owns the teardown of all tracked child processes and
// the launcher's foreground wait.
// supervisor 包负责所有被跟踪子进程的拆除以及启动器的前台等待。
//
// This package provides:
// 此包提供：
// - Armed -> Terminating -> Done state machine / Armed -> Terminating -> Done 状态机
// - Idempotent shutdown requests / 幂等的关闭请求
// - SIGTERM with bounded grace, then SIGKILL escalation / SIGTERM 加有限宽限期，再升级 SIGKILL
// - Foreground wait until signal or no children remain / 前台等待直到收到信号或无子进程存活
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lbstack/launcher/internal/config"
	"github.com/lbstack/launcher/internal/state"
)

// Phase represents the supervisor state machine phase
// Phase 表示 supervisor 状态机的阶段
type Phase string

const (
	// PhaseArmed indicates handlers are installed and no termination was requested
	// PhaseArmed 表示处理器已安装且未请求终止
	PhaseArmed Phase = "armed"

	// PhaseTerminating indicates teardown is in progress
	// PhaseTerminating 表示拆除正在进行
	PhaseTerminating Phase = "terminating"

	// PhaseDone indicates every tracked handle was sent a termination instruction
	// PhaseDone 表示所有被跟踪句柄都已收到终止指令
	PhaseDone Phase = "done"
)

// ExitReason explains why the foreground wait returned
// ExitReason 说明前台等待返回的原因
type ExitReason string

const (
	// ExitSignalReceived means an external termination request arrived
	// ExitSignalReceived 表示收到了外部终止请求
	ExitSignalReceived ExitReason = "signal_received"

	// ExitNoChildrenRemaining means every tracked child has exited on its own
	// ExitNoChildrenRemaining 表示所有被跟踪子进程都已自行退出
	ExitNoChildrenRemaining ExitReason = "no_children_remaining"
)

// pollInterval is how often teardown re-checks for child exit
// pollInterval 是拆除期间重新检查子进程退出的间隔
const pollInterval = 500 * time.Millisecond

// Supervisor owns termination of all tracked child processes.
// Supervisor 负责所有被跟踪子进程的终止。
type Supervisor struct {
	// st is the shared orchestrator state holding the handles
	// st 是保存句柄的共享编排器状态
	st *state.OrchestratorState

	// gracePeriod is how long to wait after SIGTERM before SIGKILL
	// gracePeriod 是发送 SIGTERM 后等待多久再发送 SIGKILL
	gracePeriod time.Duration

	// logger is the structured logger
	// logger 是结构化日志器
	logger *zap.Logger

	// phase is the current state machine phase
	// phase 是当前状态机阶段
	phase Phase

	// trigger is closed on the first shutdown request
	// trigger 在首次关闭请求时关闭
	trigger chan struct{}

	// noChildren is closed when the last tracked child has exited
	// noChildren 在最后一个被跟踪子进程退出时关闭
	noChildren chan struct{}

	// noChildrenOnce guards the noChildren close
	// noChildrenOnce 保护 noChildren 的关闭
	noChildrenOnce sync.Once

	// launchesDone records that the launch sequence has finished; a
	// transient zero-live window while later phases are still launching
	// must not release the foreground wait
	// launchesDone 记录启动序列已结束；后续阶段仍在启动时的
	// 瞬时零存活窗口不得释放前台等待
	launchesDone bool

	// mu protects phase and launchesDone
	// mu 保护 phase 和 launchesDone
	mu sync.RWMutex
}

// New creates a Supervisor in the Armed phase
// New 创建一个处于 Armed 阶段的 Supervisor
func New(st *state.OrchestratorState, cfg config.ShutdownConfig, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		st:          st,
		gracePeriod: cfg.GracePeriod,
		logger:      logger,
		phase:       PhaseArmed,
		trigger:     make(chan struct{}),
		noChildren:  make(chan struct{}),
	}
}

// Phase returns the current state machine phase
// Phase 返回当前状态机阶段
func (s *Supervisor) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// RequestShutdown records an external termination request. Idempotent:
// only the first call transitions Armed -> Terminating and releases the
// foreground wait; later calls are no-ops, never errors.
// RequestShutdown 记录外部终止请求。幂等：
// 只有首次调用执行 Armed -> Terminating 转换并释放前台等待；
// 后续调用为空操作，绝不报错。
func (s *Supervisor) RequestShutdown() {
	if !s.st.RequestShutdown() {
		// Already Terminating or Done / 已处于 Terminating 或 Done
		return
	}

	s.mu.Lock()
	s.phase = PhaseTerminating
	s.mu.Unlock()

	s.logger.Info("shutdown requested")
	close(s.trigger)
}

// Done exposes the shutdown trigger channel so callers can cancel
// contexts when the first termination request arrives.
// Done 暴露关闭触发通道，调用方可在首次终止请求到达时取消上下文。
func (s *Supervisor) Done() <-chan struct{} {
	return s.trigger
}

// LaunchesComplete records that the launch sequence has finished. Only
// from this point on can a zero-live observation release the foreground
// wait; it also accounts for children that already exited while later
// phases were launching.
// LaunchesComplete 记录启动序列已结束。从此刻起零存活的观察才能
// 释放前台等待；同时覆盖后续阶段启动期间已退出的子进程。
func (s *Supervisor) LaunchesComplete() {
	s.mu.Lock()
	s.launchesDone = true
	s.mu.Unlock()
	s.checkNoChildren()
}

// ChildExited is the launcher's exit handler: when the last tracked child
// is gone after launching finished, the foreground wait is released with
// NoChildrenRemaining.
// ChildExited 是 launcher 的退出回调：启动结束后最后一个被跟踪
// 子进程退出时，以 NoChildrenRemaining 释放前台等待。
func (s *Supervisor) ChildExited(_ *state.ProcessHandle) {
	s.checkNoChildren()
}

// checkNoChildren releases the foreground wait when launching is done
// and no tracked child remains. An early exit of every launched child
// while a later phase is still spawning stays a crash observation, never
// a teardown trigger for the siblings about to launch.
// checkNoChildren 在启动结束且无被跟踪子进程存活时释放前台等待。
// 后续阶段仍在派生时所有已启动子进程的提前退出只是崩溃观察，
// 绝不触发对即将启动的兄弟进程的拆除。
func (s *Supervisor) checkNoChildren() {
	s.mu.RLock()
	done := s.launchesDone
	s.mu.RUnlock()
	if done && s.st.LiveCount() == 0 {
		s.noChildrenOnce.Do(func() { close(s.noChildren) })
	}
}

// Wait blocks the main control flow until a termination request arrives
// or there is nothing left to wait on. This is the only long-lived
// blocking point of the launcher.
// Wait 阻塞主控制流，直到终止请求到达或再无可等待的对象。
// 这是启动器唯一的长期阻塞点。
func (s *Supervisor) Wait(ctx context.Context) ExitReason {
	// Nothing was launched, or everything already exited
	// 没有启动任何进程，或全部已退出
	if s.st.LiveCount() == 0 {
		return ExitNoChildrenRemaining
	}

	select {
	case <-s.trigger:
		return ExitSignalReceived
	case <-s.noChildren:
		return ExitNoChildrenRemaining
	case <-ctx.Done():
		return ExitSignalReceived
	}
}

// Terminate issues a termination instruction to every tracked handle,
// waits up to the grace period for exits, then escalates to SIGKILL.
// Handles whose process already exited are skipped without error.
// Terminating -> Done once every handle has been instructed.
// Terminate 向每个被跟踪句柄下发终止指令，在宽限期内等待退出，
// 然后升级为 SIGKILL。进程已退出的句柄会被无错误地跳过。
// 所有句柄均已下发指令后进入 Done 阶段。
func (s *Supervisor) Terminate() {
	// Terminate is driven by the main flow; a direct call still counts
	// as a shutdown request so the state freezes first
	// Terminate 由主控制流驱动；直接调用也视为关闭请求，先冻结状态
	s.RequestShutdown()

	handles := s.st.Handles()

	// Send the polite termination instruction / 发送礼貌的终止指令
	instructed := 0
	for _, h := range handles {
		if h.Terminated() {
			continue
		}
		h.MarkTerminationRequested()
		if err := terminateProcess(h.PID); err != nil {
			s.logger.Debug("terminate instruction skipped",
				zap.String("service", h.Spec.Name),
				zap.Int("pid", h.PID),
				zap.Error(err))
			continue
		}
		instructed++
		s.logger.Info("termination requested",
			zap.String("service", h.Spec.Name),
			zap.Int("pid", h.PID))
	}

	// Bounded wait for graceful exits / 在宽限期内等待优雅退出
	if instructed > 0 {
		deadline := time.Now().Add(s.gracePeriod)
		for time.Now().Before(deadline) {
			if s.st.LiveCount() == 0 {
				break
			}
			time.Sleep(pollInterval)
		}
	}

	// Escalate for stragglers / 对未退出者升级处理
	for _, h := range handles {
		if h.Terminated() {
			continue
		}
		if err := killProcess(h.PID); err == nil {
			s.logger.Warn("force kill escalation",
				zap.String("service", h.Spec.Name),
				zap.Int("pid", h.PID))
		}
	}

	s.mu.Lock()
	s.phase = PhaseDone
	s.mu.Unlock()

	s.logger.Info("teardown complete",
		zap.Int("tracked", len(handles)),
		zap.Int("instructed", instructed))
}
