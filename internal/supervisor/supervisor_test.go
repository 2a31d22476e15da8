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

package supervisor

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbstack/launcher/internal/config"
	"github.com/lbstack/launcher/internal/launcher"
	"github.com/lbstack/launcher/internal/registry"
	"github.com/lbstack/launcher/internal/state"
)

// newTestSupervisor wires a supervisor, launcher and state together
// newTestSupervisor 将 supervisor、launcher 和 state 连接在一起
func newTestSupervisor(t *testing.T, grace time.Duration) (*Supervisor, *launcher.Launcher, *state.OrchestratorState) {
	t.Helper()
	st := state.New()
	l := launcher.New(st, config.LauncherConfig{ServiceLogDir: t.TempDir()}, nil)
	sup := New(st, config.ShutdownConfig{GracePeriod: grace}, nil)
	l.SetExitHandler(sup.ChildExited)
	return sup, l, st
}

// launchSleeper launches a long sleep as a tracked child
// launchSleeper 将长时间 sleep 作为被跟踪子进程启动
func launchSleeper(t *testing.T, l *launcher.Launcher, name string, port int) *state.ProcessHandle {
	t.Helper()
	h, err := l.Launch(registry.ServiceSpec{
		Name: name, Command: "sleep", Args: []string{"60"}, Port: port, Phase: 1,
	})
	require.NoError(t, err)
	return h
}

// TestArmedToDone tests the Armed -> Terminating -> Done progression
// TestArmedToDone 测试 Armed -> Terminating -> Done 的推进
func TestArmedToDone(t *testing.T) {
	sup, l, _ := newTestSupervisor(t, 5*time.Second)
	assert.Equal(t, PhaseArmed, sup.Phase())

	launchSleeper(t, l, "a", 9000)

	sup.RequestShutdown()
	assert.Equal(t, PhaseTerminating, sup.Phase())

	sup.Terminate()
	assert.Equal(t, PhaseDone, sup.Phase())
	l.WaitWatchers()
}

// TestRequestShutdownIdempotent tests that repeated requests collapse
// TestRequestShutdownIdempotent 测试重复请求会合并
func TestRequestShutdownIdempotent(t *testing.T) {
	sup, _, st := newTestSupervisor(t, time.Second)

	sup.RequestShutdown()
	assert.Equal(t, PhaseTerminating, sup.Phase())
	assert.True(t, st.ShutdownRequested())

	// Further requests must not panic or regress the phase
	// 后续请求不得 panic 也不得回退阶段
	sup.RequestShutdown()
	sup.RequestShutdown()
	assert.Equal(t, PhaseTerminating, sup.Phase())
}

// TestWaitReleasedBySignal tests the SignalReceived exit reason
// TestWaitReleasedBySignal 测试 SignalReceived 退出原因
func TestWaitReleasedBySignal(t *testing.T) {
	sup, l, _ := newTestSupervisor(t, time.Second)
	h := launchSleeper(t, l, "a", 9000)

	go func() {
		time.Sleep(20 * time.Millisecond)
		sup.RequestShutdown()
	}()

	reason := sup.Wait(context.Background())
	assert.Equal(t, ExitSignalReceived, reason)

	sup.Terminate()
	l.WaitWatchers()
	assert.True(t, h.Terminated())
}

// TestWaitReleasedWhenChildrenGone tests the NoChildrenRemaining exit reason
// TestWaitReleasedWhenChildrenGone 测试 NoChildrenRemaining 退出原因
func TestWaitReleasedWhenChildrenGone(t *testing.T) {
	sup, l, _ := newTestSupervisor(t, time.Second)

	// A child that exits immediately / 立即退出的子进程
	_, err := l.Launch(registry.ServiceSpec{
		Name: "oneshot", Command: "true", Port: 9000, Phase: 1,
	})
	require.NoError(t, err)
	sup.LaunchesComplete()

	reason := sup.Wait(context.Background())
	assert.Equal(t, ExitNoChildrenRemaining, reason)
	l.WaitWatchers()
}

// TestWaitSurvivesTransientZeroLive tests that an early exit of every
// already-launched child while launching is still underway does not
// release the wait once a later child is tracked
// TestWaitSurvivesTransientZeroLive 测试启动仍在进行时所有已启动
// 子进程的提前退出不会在后续子进程被跟踪后释放等待
func TestWaitSurvivesTransientZeroLive(t *testing.T) {
	sup, l, st := newTestSupervisor(t, 5*time.Second)

	// Every launched child exits before the next launch happens
	// 所有已启动子进程在下一次启动前退出
	_, err := l.Launch(registry.ServiceSpec{
		Name: "worker-1", Command: "true", Port: 9000, Phase: 1,
	})
	require.NoError(t, err)
	l.WaitWatchers()
	require.Equal(t, 0, st.LiveCount())

	// A later phase still launches a long-lived child
	// 后续阶段仍会启动一个长生命周期子进程
	dispatcher := launchSleeper(t, l, "dispatcher", 9001)
	sup.LaunchesComplete()

	done := make(chan ExitReason, 1)
	go func() { done <- sup.Wait(context.Background()) }()

	// The crash of the workers must not be promoted to a teardown of the
	// live dispatcher
	// worker 的崩溃不得升级为对存活 dispatcher 的拆除
	select {
	case reason := <-done:
		t.Fatalf("wait released with %s while a child is live", reason)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, 1, st.LiveCount())
	assert.False(t, dispatcher.Terminated())

	sup.RequestShutdown()
	assert.Equal(t, ExitSignalReceived, <-done)
	sup.Terminate()
	l.WaitWatchers()
}

// TestWaitReleasedByLastExitAfterLaunches tests that the wait blocked on a
// live child releases when that child exits on its own
// TestWaitReleasedByLastExitAfterLaunches 测试阻塞在存活子进程上的
// 等待会在该子进程自行退出时释放
func TestWaitReleasedByLastExitAfterLaunches(t *testing.T) {
	sup, l, _ := newTestSupervisor(t, time.Second)
	h := launchSleeper(t, l, "only", 9000)
	sup.LaunchesComplete()

	done := make(chan ExitReason, 1)
	go func() { done <- sup.Wait(context.Background()) }()

	require.NoError(t, syscall.Kill(-h.PID, syscall.SIGKILL))

	select {
	case reason := <-done:
		assert.Equal(t, ExitNoChildrenRemaining, reason)
	case <-time.After(5 * time.Second):
		t.Fatal("wait not released after the last child exited")
	}
	l.WaitWatchers()
}

// TestWaitWithNothingLaunched tests the fast path with zero children
// TestWaitWithNothingLaunched 测试零子进程的快速路径
func TestWaitWithNothingLaunched(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, time.Second)
	assert.Equal(t, ExitNoChildrenRemaining, sup.Wait(context.Background()))
}

// TestWaitReleasedByContext tests that context cancellation releases the wait
// TestWaitReleasedByContext 测试上下文取消会释放等待
func TestWaitReleasedByContext(t *testing.T) {
	sup, l, _ := newTestSupervisor(t, time.Second)
	launchSleeper(t, l, "a", 9000)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	assert.Equal(t, ExitSignalReceived, sup.Wait(ctx))
	sup.Terminate()
	l.WaitWatchers()
}

// TestTerminateKillsChildren tests that teardown terminates every live child
// TestTerminateKillsChildren 测试拆除会终止所有存活子进程
func TestTerminateKillsChildren(t *testing.T) {
	sup, l, st := newTestSupervisor(t, 5*time.Second)
	h1 := launchSleeper(t, l, "a", 9000)
	h2 := launchSleeper(t, l, "b", 9001)

	sup.Terminate()
	l.WaitWatchers()

	assert.True(t, h1.Terminated())
	assert.True(t, h2.Terminated())
	assert.Equal(t, 0, st.LiveCount())
	assert.Equal(t, PhaseDone, sup.Phase())
}

// TestTerminateSkipsDeadChildren tests that already-exited children are
// skipped without error
// TestTerminateSkipsDeadChildren 测试已退出的子进程会被无错误地跳过
func TestTerminateSkipsDeadChildren(t *testing.T) {
	sup, l, st := newTestSupervisor(t, time.Second)

	_, err := l.Launch(registry.ServiceSpec{
		Name: "gone", Command: "true", Port: 9000, Phase: 1,
	})
	require.NoError(t, err)
	l.WaitWatchers()
	require.Equal(t, 0, st.LiveCount())

	start := time.Now()
	sup.Terminate()
	// Nothing was instructed, so the grace period never runs
	// 未下发任何指令，宽限期不会运行
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, PhaseDone, sup.Phase())
}
