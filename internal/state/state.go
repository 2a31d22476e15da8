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

// Package state holds the launcher's runtime state: the tracked process
// handles and the shutdown flag.
// state 包保存启动器的运行时状态：被跟踪的进程句柄和关闭标志。
//
// The state object is created once per run and passed explicitly into the
// launcher and supervisor; there is no package-level mutable state.
// 状态对象每次运行只创建一次，显式传递给 launcher 和 supervisor；
// 不存在包级别的可变状态。
package state

import (
	"errors"
	"sync"
	"time"

	"github.com/lbstack/launcher/internal/registry"
)

// Common errors for state management
// 状态管理的常见错误
var (
	// ErrStateFrozen indicates registration was attempted after shutdown began
	// ErrStateFrozen 表示在关闭开始后尝试注册
	ErrStateFrozen = errors.New("orchestrator state is frozen")
)

// HandleState represents the lifecycle state of a tracked process
// HandleState 表示被跟踪进程的生命周期状态
type HandleState string

const (
	// HandleStarting indicates the process was spawned but not yet gated
	// HandleStarting 表示进程已派生但尚未通过就绪门
	HandleStarting HandleState = "starting"

	// HandleRunning indicates the process passed its phase's readiness gate
	// HandleRunning 表示进程已通过其阶段的就绪门
	HandleRunning HandleState = "running"

	// HandleTerminationRequested indicates a termination instruction was issued
	// HandleTerminationRequested 表示已下发终止指令
	HandleTerminationRequested HandleState = "termination_requested"

	// HandleTerminated indicates the process exit was observed
	// HandleTerminated 表示已观察到进程退出
	HandleTerminated HandleState = "terminated"
)

// ProcessHandle is the live record of one spawned process.
// ProcessHandle 是单个已派生进程的活动记录。
//
// A handle exists only for processes that were successfully spawned;
// spawn failures never produce a handle.
// 句柄只为成功派生的进程存在；派生失败不会产生句柄。
type ProcessHandle struct {
	// Spec is the service spec this process was launched from
	// Spec 是此进程启动时使用的服务规格
	Spec registry.ServiceSpec `json:"spec"`

	// PID is the operating system process identifier
	// PID 是操作系统进程标识符
	PID int `json:"pid"`

	// StartedAt is when the process was spawned
	// StartedAt 是进程派生的时间
	StartedAt time.Time `json:"started_at"`

	// state is the current handle state, owned by the supervisor and
	// the exit observation after creation
	// state 是当前句柄状态，创建后由 supervisor 和退出观察者所有
	state HandleState

	// exitErr records the error cmd.Wait returned, if any
	// exitErr 记录 cmd.Wait 返回的错误（如有）
	exitErr error

	// mu protects state and exitErr
	// mu 保护 state 和 exitErr
	mu sync.RWMutex
}

// NewHandle creates a handle in the Starting state
// NewHandle 创建一个处于 Starting 状态的句柄
func NewHandle(spec registry.ServiceSpec, pid int) *ProcessHandle {
	return &ProcessHandle{
		Spec:      spec,
		PID:       pid,
		StartedAt: time.Now(),
		state:     HandleStarting,
	}
}

// State returns the current handle state
// State 返回当前句柄状态
func (h *ProcessHandle) State() HandleState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// MarkRunning transitions Starting -> Running; other states are left alone
// MarkRunning 执行 Starting -> Running 转换；其他状态保持不变
func (h *ProcessHandle) MarkRunning() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == HandleStarting {
		h.state = HandleRunning
	}
}

// MarkTerminationRequested records that a termination instruction was issued.
// A handle whose exit was already observed stays Terminated.
// MarkTerminationRequested 记录已下发终止指令。
// 已观察到退出的句柄保持 Terminated 状态。
func (h *ProcessHandle) MarkTerminationRequested() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != HandleTerminated {
		h.state = HandleTerminationRequested
	}
}

// MarkTerminated records the observed process exit. Terminal.
// MarkTerminated 记录观察到的进程退出。终态。
func (h *ProcessHandle) MarkTerminated(exitErr error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = HandleTerminated
	h.exitErr = exitErr
}

// Terminated reports whether the process exit has been observed
// Terminated 报告是否已观察到进程退出
func (h *ProcessHandle) Terminated() bool {
	return h.State() == HandleTerminated
}

// ExitError returns the error recorded at exit observation, if any
// ExitError 返回退出观察时记录的错误（如有）
func (h *ProcessHandle) ExitError() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.exitErr
}

// Uptime returns how long the process has been tracked
// Uptime 返回进程被跟踪的时长
func (h *ProcessHandle) Uptime() time.Duration {
	return time.Since(h.StartedAt)
}

// OrchestratorState is the single owned state object for one launcher run.
// OrchestratorState 是单次启动器运行的唯一状态对象。
//
// The handle list is append-only and insertion order equals launch order.
// Once shutdown is requested the list is frozen: no new handles may be added.
// 句柄列表只追加，插入顺序即启动顺序。
// 一旦请求关闭，列表即被冻结：不能再添加新句柄。
type OrchestratorState struct {
	// handles are the tracked processes in launch order
	// handles 是按启动顺序排列的被跟踪进程
	handles []*ProcessHandle

	// shutdownRequested transitions false -> true exactly once
	// shutdownRequested 恰好发生一次 false -> true 转换
	shutdownRequested bool

	// startedAt is when the state object was created
	// startedAt 是状态对象创建的时间
	startedAt time.Time

	// mu protects handles and shutdownRequested
	// mu 保护 handles 和 shutdownRequested
	mu sync.RWMutex
}

// New creates an empty orchestrator state
// New 创建一个空的编排器状态
func New() *OrchestratorState {
	return &OrchestratorState{startedAt: time.Now()}
}

// Register adds a handle to the tracked set. It fails once shutdown began,
// so no process can be spawned into an untracked window during teardown.
// Register 将句柄加入跟踪集合。关闭开始后注册会失败，
// 因此在拆除期间不会有进程处于未跟踪状态。
func (s *OrchestratorState) Register(h *ProcessHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownRequested {
		return ErrStateFrozen
	}
	s.handles = append(s.handles, h)
	return nil
}

// Handles returns a snapshot of the tracked handles in launch order
// Handles 按启动顺序返回被跟踪句柄的快照
func (s *OrchestratorState) Handles() []*ProcessHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ProcessHandle, len(s.handles))
	copy(out, s.handles)
	return out
}

// Len returns the number of tracked handles
// Len 返回被跟踪句柄的数量
func (s *OrchestratorState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// LiveCount returns the number of handles whose exit has not been observed
// LiveCount 返回尚未观察到退出的句柄数量
func (s *OrchestratorState) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	live := 0
	for _, h := range s.handles {
		if !h.Terminated() {
			live++
		}
	}
	return live
}

// RequestShutdown sets the shutdown flag and freezes the handle set.
// It returns true only for the call that made the false -> true transition,
// so repeated termination requests collapse into a single teardown.
// RequestShutdown 设置关闭标志并冻结句柄集合。
// 只有完成 false -> true 转换的那次调用返回 true，
// 因此重复的终止请求会合并为一次拆除。
func (s *OrchestratorState) RequestShutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdownRequested {
		return false
	}
	s.shutdownRequested = true
	return true
}

// ShutdownRequested reports whether shutdown has been requested
// ShutdownRequested 报告是否已请求关闭
func (s *OrchestratorState) ShutdownRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdownRequested
}

// Uptime returns how long this state object has existed
// Uptime 返回此状态对象已存在的时长
func (s *OrchestratorState) Uptime() time.Duration {
	return time.Since(s.startedAt)
}
