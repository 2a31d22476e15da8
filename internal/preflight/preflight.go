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

// Package preflight verifies the launcher's own runtime requirements
// before any service is launched.
// preflight 包在启动任何服务之前验证启动器自身的运行时要求。
//
// This package provides:
// 此包提供：
// - Capability probing (executable on PATH, probe command) / 能力探测（PATH 上的可执行文件、探测命令）
// - One-shot remediation per capability / 每项能力一次性补救
// - Fatal result when a capability stays missing / 能力仍缺失时的致命结果
package preflight

import (
	"context"
	"errors"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/lbstack/launcher/internal/config"
)

// Common errors for preflight
// 预检的常见错误
var (
	// ErrPreflightFailed indicates a capability is missing after remediation.
	// This is the only unconditional abort path of the launcher.
	// ErrPreflightFailed 表示补救后能力仍缺失。
	// 这是启动器唯一的无条件中止路径。
	ErrPreflightFailed = errors.New("preflight failed")
)

// ItemStatus represents the outcome of a single capability check
// ItemStatus 表示单项能力检查的结果
type ItemStatus string

const (
	// StatusPassed indicates the capability was present on the first probe
	// StatusPassed 表示首次探测即存在该能力
	StatusPassed ItemStatus = "passed"

	// StatusRemediated indicates the capability appeared after remediation
	// StatusRemediated 表示补救后该能力出现
	StatusRemediated ItemStatus = "remediated"

	// StatusFailed indicates the capability is missing even after remediation
	// StatusFailed 表示补救后该能力仍缺失
	StatusFailed ItemStatus = "failed"
)

// Capability describes one runtime requirement of the launcher itself
// Capability 描述启动器自身的一项运行时要求
type Capability struct {
	// Name is the capability name (for logs and errors)
	// Name 是能力名称（用于日志和错误）
	Name string

	// Executable must resolve on PATH
	// Executable 必须能在 PATH 上解析
	Executable string

	// ProbeArgs, when set, are run against the executable; exit 0 means present
	// ProbeArgs 非空时会对可执行文件运行；退出码 0 表示能力存在
	ProbeArgs []string

	// Remedy is the remediation command, run at most once
	// Remedy 是补救命令，最多运行一次
	Remedy []string
}

// DefaultCapabilities returns the compiled-in requirement list: the Python
// runtime the stack's services are written against.
// DefaultCapabilities 返回编译期内置的要求列表：
// 服务栈所依赖的 Python 运行时。
func DefaultCapabilities() []Capability {
	return []Capability{
		{
			Name:       "python-runtime",
			Executable: "python3",
		},
		{
			Name:       "python-flask",
			Executable: "python3",
			ProbeArgs:  []string{"-c", "import flask"},
			Remedy:     []string{"python3", "-m", "pip", "install", "flask", "requests"},
		},
	}
}

// CapabilitiesFromConfig converts config capability specs, falling back to
// the compiled-in defaults when the config carries none.
// CapabilitiesFromConfig 转换配置中的能力规格；
// 配置未给出时回退到编译期内置的默认值。
func CapabilitiesFromConfig(cfg config.PreflightConfig) []Capability {
	if len(cfg.Capabilities) == 0 {
		return DefaultCapabilities()
	}
	caps := make([]Capability, 0, len(cfg.Capabilities))
	for _, c := range cfg.Capabilities {
		caps = append(caps, Capability{
			Name:       c.Name,
			Executable: c.Executable,
			ProbeArgs:  c.ProbeArgs,
			Remedy:     c.Remedy,
		})
	}
	return caps
}

// CheckItem is the result of one capability check
// CheckItem 是单项能力检查的结果
type CheckItem struct {
	// Name is the capability name
	// Name 是能力名称
	Name string `json:"name"`

	// Status is the check outcome
	// Status 是检查结果
	Status ItemStatus `json:"status"`

	// Message is a human-readable description of the outcome
	// Message 是结果的人类可读描述
	Message string `json:"message"`
}

// Result contains all capability check results
// Result 包含所有能力检查结果
type Result struct {
	// Items is the list of check items, in capability order
	// Items 是按能力顺序排列的检查项列表
	Items []CheckItem `json:"items"`
}

// Failed reports whether any capability stayed missing
// Failed 报告是否有能力仍缺失
func (r *Result) Failed() bool {
	for _, item := range r.Items {
		if item.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Prober abstracts the probe and remediation side effects (for testing)
// Prober 抽象探测和补救的副作用（用于测试）
type Prober interface {
	// LookPath reports whether the executable resolves on PATH
	// LookPath 报告可执行文件是否能在 PATH 上解析
	LookPath(executable string) error

	// RunProbe runs the probe command; nil means the capability is present
	// RunProbe 运行探测命令；返回 nil 表示能力存在
	RunProbe(ctx context.Context, executable string, args []string) error

	// RunRemedy runs the remediation command once
	// RunRemedy 运行一次补救命令
	RunRemedy(ctx context.Context, command []string) error
}

// ExecProber is the default Prober backed by os/exec
// ExecProber 是基于 os/exec 的默认 Prober
type ExecProber struct{}

// LookPath resolves the executable on PATH
// LookPath 在 PATH 上解析可执行文件
func (ExecProber) LookPath(executable string) error {
	_, err := exec.LookPath(executable)
	return err
}

// RunProbe runs the probe command and returns its error
// RunProbe 运行探测命令并返回其错误
func (ExecProber) RunProbe(ctx context.Context, executable string, args []string) error {
	return exec.CommandContext(ctx, executable, args...).Run()
}

// RunRemedy runs the remediation command and returns its error
// RunRemedy 运行补救命令并返回其错误
func (ExecProber) RunRemedy(ctx context.Context, command []string) error {
	if len(command) == 0 {
		return errors.New("empty remedy command")
	}
	return exec.CommandContext(ctx, command[0], command[1:]...).Run()
}

// Checker runs the capability checks with one-shot remediation
// Checker 执行能力检查并进行一次性补救
type Checker struct {
	// capabilities is the requirement list
	// capabilities 是要求列表
	capabilities []Capability

	// prober performs probes and remediation
	// prober 执行探测和补救
	prober Prober

	// logger is the structured logger
	// logger 是结构化日志器
	logger *zap.Logger
}

// NewChecker creates a Checker with the default exec-backed prober
// NewChecker 创建使用默认 exec Prober 的 Checker
func NewChecker(capabilities []Capability, logger *zap.Logger) *Checker {
	return NewCheckerWithProber(capabilities, ExecProber{}, logger)
}

// NewCheckerWithProber creates a Checker with a custom prober (for testing)
// NewCheckerWithProber 使用自定义 Prober 创建 Checker（用于测试）
func NewCheckerWithProber(capabilities []Capability, prober Prober, logger *zap.Logger) *Checker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(capabilities) == 0 {
		capabilities = DefaultCapabilities()
	}
	return &Checker{
		capabilities: capabilities,
		prober:       prober,
		logger:       logger,
	}
}

// CheckAndRemediate probes every capability, remediates each missing one
// exactly once, and re-probes. A capability still missing afterwards makes
// the whole check fatal; the launcher must not proceed to launch anything.
// CheckAndRemediate 探测每项能力，对缺失的能力恰好补救一次并重新探测。
// 补救后仍缺失的能力使整个检查变为致命；启动器不得继续启动任何服务。
func (c *Checker) CheckAndRemediate(ctx context.Context) (*Result, error) {
	result := &Result{Items: make([]CheckItem, 0, len(c.capabilities))}

	for _, capability := range c.capabilities {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		item := c.checkOne(ctx, capability)
		result.Items = append(result.Items, item)

		switch item.Status {
		case StatusPassed:
			c.logger.Debug("capability present", zap.String("capability", capability.Name))
		case StatusRemediated:
			c.logger.Info("capability remediated", zap.String("capability", capability.Name))
		case StatusFailed:
			c.logger.Error("capability missing after remediation",
				zap.String("capability", capability.Name),
				zap.String("detail", item.Message))
		}
	}

	if result.Failed() {
		return result, fmt.Errorf("%w: %s", ErrPreflightFailed, result.summary())
	}
	return result, nil
}

// checkOne probes a single capability and remediates at most once
// checkOne 探测单项能力，最多补救一次
func (c *Checker) checkOne(ctx context.Context, capability Capability) CheckItem {
	item := CheckItem{Name: capability.Name}

	probeErr := c.probe(ctx, capability)
	if probeErr == nil {
		item.Status = StatusPassed
		item.Message = fmt.Sprintf("%s is available / %s 可用", capability.Name, capability.Name)
		return item
	}

	// No remedy configured: the failure stands
	// 未配置补救命令：失败即成立
	if len(capability.Remedy) == 0 {
		item.Status = StatusFailed
		item.Message = fmt.Sprintf("%s missing and no remedy configured: %v / %s 缺失且未配置补救命令",
			capability.Name, probeErr, capability.Name)
		return item
	}

	// Exactly one remediation attempt, then re-probe
	// 恰好一次补救尝试，然后重新探测
	c.logger.Info("capability missing, attempting remediation",
		zap.String("capability", capability.Name),
		zap.Strings("remedy", capability.Remedy))
	if remedyErr := c.prober.RunRemedy(ctx, capability.Remedy); remedyErr != nil {
		item.Status = StatusFailed
		item.Message = fmt.Sprintf("remediation failed: %v / 补救失败：%v", remedyErr, remedyErr)
		return item
	}

	if probeErr = c.probe(ctx, capability); probeErr != nil {
		item.Status = StatusFailed
		item.Message = fmt.Sprintf("%s still missing after remediation: %v / 补救后 %s 仍缺失",
			capability.Name, probeErr, capability.Name)
		return item
	}

	item.Status = StatusRemediated
	item.Message = fmt.Sprintf("%s available after remediation / 补救后 %s 可用", capability.Name, capability.Name)
	return item
}

// probe checks a capability: executable resolution, then the optional probe command
// probe 检查一项能力：先解析可执行文件，再运行可选的探测命令
func (c *Checker) probe(ctx context.Context, capability Capability) error {
	if err := c.prober.LookPath(capability.Executable); err != nil {
		return fmt.Errorf("executable %s not found: %w", capability.Executable, err)
	}
	if len(capability.ProbeArgs) > 0 {
		if err := c.prober.RunProbe(ctx, capability.Executable, capability.ProbeArgs); err != nil {
			return fmt.Errorf("probe %s %v failed: %w", capability.Executable, capability.ProbeArgs, err)
		}
	}
	return nil
}

// summary names the failed capabilities
// summary 列出失败的能力名称
func (r *Result) summary() string {
	failed := ""
	for _, item := range r.Items {
		if item.Status == StatusFailed {
			if failed != "" {
				failed += ", "
			}
			failed += item.Name
		}
	}
	return fmt.Sprintf("missing capabilities: %s", failed)
}
