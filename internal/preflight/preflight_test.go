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

package preflight

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbstack/launcher/internal/config"
)

// fakeProber simulates probe and remediation outcomes for tests
// fakeProber 为测试模拟探测和补救结果
type fakeProber struct {
	// missing holds executables that do not resolve on PATH
	// missing 保存无法在 PATH 上解析的可执行文件
	missing map[string]bool

	// probeFails holds probe keys (executable + args) that fail
	// probeFails 保存失败的探测键（可执行文件 + 参数）
	probeFails map[string]bool

	// remedyErr, when set, makes every remediation fail
	// remedyErr 非空时使所有补救失败
	remedyErr error

	// remedyFixes maps a remedy key to the probe key it repairs
	// remedyFixes 将补救键映射到它修复的探测键
	remedyFixes map[string]string

	// remedyRuns counts remediation invocations per remedy key
	// remedyRuns 按补救键统计补救调用次数
	remedyRuns map[string]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		missing:     make(map[string]bool),
		probeFails:  make(map[string]bool),
		remedyFixes: make(map[string]string),
		remedyRuns:  make(map[string]int),
	}
}

func probeKey(executable string, args []string) string {
	return executable + " " + strings.Join(args, " ")
}

func (f *fakeProber) LookPath(executable string) error {
	if f.missing[executable] {
		return errors.New("executable file not found in $PATH")
	}
	return nil
}

func (f *fakeProber) RunProbe(_ context.Context, executable string, args []string) error {
	if f.probeFails[probeKey(executable, args)] {
		return errors.New("exit status 1")
	}
	return nil
}

func (f *fakeProber) RunRemedy(_ context.Context, command []string) error {
	key := strings.Join(command, " ")
	f.remedyRuns[key]++
	if f.remedyErr != nil {
		return f.remedyErr
	}
	if fixed, ok := f.remedyFixes[key]; ok {
		delete(f.probeFails, fixed)
		delete(f.missing, fixed)
	}
	return nil
}

// flaskCapability is the probe-and-remedy capability used across tests
// flaskCapability 是各测试共用的带探测和补救的能力
var flaskCapability = Capability{
	Name:       "python-flask",
	Executable: "python3",
	ProbeArgs:  []string{"-c", "import flask"},
	Remedy:     []string{"python3", "-m", "pip", "install", "flask"},
}

// TestAllCapabilitiesPresent tests the clean pass path
// TestAllCapabilitiesPresent 测试全部通过的路径
func TestAllCapabilitiesPresent(t *testing.T) {
	prober := newFakeProber()
	checker := NewCheckerWithProber(DefaultCapabilities(), prober, nil)

	result, err := checker.CheckAndRemediate(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Items, 2)
	for _, item := range result.Items {
		assert.Equal(t, StatusPassed, item.Status)
	}
	assert.False(t, result.Failed())
	assert.Empty(t, prober.remedyRuns)
}

// TestRemediationRepairsCapability tests the probe -> remedy -> re-probe path
// TestRemediationRepairsCapability 测试探测 -> 补救 -> 重新探测的路径
func TestRemediationRepairsCapability(t *testing.T) {
	prober := newFakeProber()
	key := probeKey("python3", flaskCapability.ProbeArgs)
	prober.probeFails[key] = true
	prober.remedyFixes[strings.Join(flaskCapability.Remedy, " ")] = key

	checker := NewCheckerWithProber([]Capability{flaskCapability}, prober, nil)
	result, err := checker.CheckAndRemediate(context.Background())
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, StatusRemediated, result.Items[0].Status)
	assert.Equal(t, 1, prober.remedyRuns[strings.Join(flaskCapability.Remedy, " ")])
}

// TestRemediationRunsAtMostOnce tests that a stubborn capability gets exactly
// one remediation attempt before the check turns fatal
// TestRemediationRunsAtMostOnce 测试顽固缺失的能力在检查变为致命之前
// 恰好获得一次补救尝试
func TestRemediationRunsAtMostOnce(t *testing.T) {
	prober := newFakeProber()
	prober.probeFails[probeKey("python3", flaskCapability.ProbeArgs)] = true

	checker := NewCheckerWithProber([]Capability{flaskCapability}, prober, nil)
	result, err := checker.CheckAndRemediate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreflightFailed))
	require.Len(t, result.Items, 1)
	assert.Equal(t, StatusFailed, result.Items[0].Status)
	assert.Equal(t, 1, prober.remedyRuns[strings.Join(flaskCapability.Remedy, " ")])
	assert.True(t, result.Failed())
}

// TestMissingExecutableNoRemedy tests that a missing executable with no
// remedy fails immediately
// TestMissingExecutableNoRemedy 测试无补救命令的可执行文件缺失会立即失败
func TestMissingExecutableNoRemedy(t *testing.T) {
	prober := newFakeProber()
	prober.missing["python3"] = true

	checker := NewCheckerWithProber([]Capability{{
		Name:       "python-runtime",
		Executable: "python3",
	}}, prober, nil)

	result, err := checker.CheckAndRemediate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreflightFailed))
	assert.Equal(t, StatusFailed, result.Items[0].Status)
	assert.Empty(t, prober.remedyRuns)
}

// TestRemedyCommandFails tests that a failing remedy command fails the check
// TestRemedyCommandFails 测试补救命令失败会使检查失败
func TestRemedyCommandFails(t *testing.T) {
	prober := newFakeProber()
	prober.probeFails[probeKey("python3", flaskCapability.ProbeArgs)] = true
	prober.remedyErr = errors.New("pip: network unreachable")

	checker := NewCheckerWithProber([]Capability{flaskCapability}, prober, nil)
	result, err := checker.CheckAndRemediate(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPreflightFailed))
	assert.Equal(t, StatusFailed, result.Items[0].Status)
	assert.Contains(t, result.Items[0].Message, "remediation failed")
}

// TestOneFailureDoesNotStopOtherChecks tests that every capability is
// probed even when an earlier one fails
// TestOneFailureDoesNotStopOtherChecks 测试即使前面的能力失败，
// 后面的能力仍会被探测
func TestOneFailureDoesNotStopOtherChecks(t *testing.T) {
	prober := newFakeProber()
	prober.missing["nosuchtool"] = true

	checker := NewCheckerWithProber([]Capability{
		{Name: "broken", Executable: "nosuchtool"},
		{Name: "healthy", Executable: "python3"},
	}, prober, nil)

	result, err := checker.CheckAndRemediate(context.Background())
	require.Error(t, err)
	require.Len(t, result.Items, 2)
	assert.Equal(t, StatusFailed, result.Items[0].Status)
	assert.Equal(t, StatusPassed, result.Items[1].Status)
	assert.Contains(t, err.Error(), "broken")
}

// TestContextCancellation tests that a cancelled context stops the check
// TestContextCancellation 测试已取消的上下文会停止检查
func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	checker := NewCheckerWithProber(DefaultCapabilities(), newFakeProber(), nil)
	_, err := checker.CheckAndRemediate(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

// TestCapabilitiesFromConfig tests config conversion and the default fallback
// TestCapabilitiesFromConfig 测试配置转换和默认回退
func TestCapabilitiesFromConfig(t *testing.T) {
	caps := CapabilitiesFromConfig(config.PreflightConfig{})
	assert.Equal(t, DefaultCapabilities(), caps)

	caps = CapabilitiesFromConfig(config.PreflightConfig{
		Capabilities: []config.CapabilitySpec{
			{Name: "node", Executable: "node", ProbeArgs: []string{"--version"}},
		},
	})
	require.Len(t, caps, 1)
	assert.Equal(t, "node", caps[0].Executable)
	assert.Empty(t, caps[0].Remedy)
}
