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

// Package orchestrator drives the launcher's control flow:
// preflight, phased launch, readiness gating, foreground wait, teardown.
// orchestrator 包驱动启动器的控制流：
// 预检、分阶段启动、就绪门、前台等待、拆除。
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lbstack/launcher/internal/config"
	"github.com/lbstack/launcher/internal/launcher"
	"github.com/lbstack/launcher/internal/preflight"
	"github.com/lbstack/launcher/internal/readiness"
	"github.com/lbstack/launcher/internal/registry"
	"github.com/lbstack/launcher/internal/state"
	"github.com/lbstack/launcher/internal/supervisor"
)

// Orchestrator integrates all launcher components for one run.
// Orchestrator 为单次运行集成所有启动器组件。
type Orchestrator struct {
	// cfg is the launcher configuration
	// cfg 是启动器配置
	cfg *config.Config

	// reg is the effective service registry
	// reg 是生效的服务注册表
	reg *registry.Registry

	// st is the run's single owned state object
	// st 是本次运行的唯一状态对象
	st *state.OrchestratorState

	// checker performs the dependency preflight
	// checker 执行依赖预检
	checker *preflight.Checker

	// launcher spawns the services
	// launcher 派生服务进程
	launcher *launcher.Launcher

	// gate blocks between phases
	// gate 在阶段之间阻塞
	gate *readiness.Gate

	// sup owns teardown and the foreground wait
	// sup 负责拆除和前台等待
	sup *supervisor.Supervisor

	// logger is the structured logger
	// logger 是结构化日志器
	logger *zap.Logger
}

// New creates an Orchestrator with all components initialized
// New 创建一个初始化所有组件的 Orchestrator
func New(cfg *config.Config, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("build service registry: %w", err)
	}

	st := state.New()
	l := launcher.New(st, cfg.Launcher, logger)
	sup := supervisor.New(st, cfg.Shutdown, logger)

	// The supervisor observes every child exit so the foreground wait can
	// release when nothing is left to wait on
	// supervisor 观察每个子进程退出，以便无可等待对象时释放前台等待
	l.SetExitHandler(sup.ChildExited)

	return &Orchestrator{
		cfg:      cfg,
		reg:      reg,
		st:       st,
		checker:  preflight.NewChecker(preflight.CapabilitiesFromConfig(cfg.Preflight), logger),
		launcher: l,
		gate:     readiness.New(cfg.Readiness, logger),
		sup:      sup,
		logger:   logger,
	}, nil
}

// State exposes the run's state object (read-only consumers: status API)
// State 暴露本次运行的状态对象（只读消费者：状态 API）
func (o *Orchestrator) State() *state.OrchestratorState {
	return o.st
}

// Supervisor exposes the shutdown supervisor (signal wiring)
// Supervisor 暴露关闭 supervisor（信号接线）
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.sup
}

// Registry exposes the effective service registry
// Registry 暴露生效的服务注册表
func (o *Orchestrator) Registry() *registry.Registry {
	return o.reg
}

// Run executes the full control flow:
// preflight -> phased launch with gates -> foreground wait -> teardown.
// Only a preflight failure is returned as an error; everything after the
// first launch resolves to a clean exit.
// Run 执行完整控制流：
// 预检 -> 带就绪门的分阶段启动 -> 前台等待 -> 拆除。
// 只有预检失败会作为错误返回；首次启动之后的一切都以干净退出收尾。
func (o *Orchestrator) Run(ctx context.Context) error {
	// A shutdown request cancels the run context so a blocking readiness
	// gate releases immediately instead of running out its delay/timeout
	// 关闭请求会取消运行上下文，阻塞中的就绪门立即释放，
	// 而不是等待其延迟/超时耗尽
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.sup.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	ctx = runCtx

	phases := o.reg.Phases()

	fmt.Println("========================================")
	fmt.Println("  LBStack Launcher Starting...")
	fmt.Println("  LBStack Launcher 正在启动...")
	fmt.Println("========================================")
	fmt.Printf("Services: %d in %d phase(s)\n", o.reg.Len(), len(phases))
	fmt.Printf("Spawn Policy: %s, Readiness Mode: %s\n",
		o.cfg.Launcher.SpawnPolicy, o.cfg.Readiness.Mode)

	// Step 1: Dependency preflight - the only unconditional abort path
	// 步骤 1：依赖预检 - 唯一的无条件中止路径
	if o.cfg.Preflight.Enabled {
		fmt.Println("[1/4] Running dependency preflight... / 执行依赖预检...")
		if _, err := o.checker.CheckAndRemediate(ctx); err != nil {
			return fmt.Errorf("dependency preflight: %w", err)
		}
	} else {
		fmt.Println("[1/4] Dependency preflight disabled, skipping / 依赖预检已禁用，跳过")
	}

	// Step 2: Launch each phase, gating between phases
	// 步骤 2：逐阶段启动，阶段之间设置就绪门
	fmt.Printf("[2/4] Launching %d phase(s)... / 启动 %d 个阶段...\n", len(phases), len(phases))
	o.launchPhases(ctx, phases)

	// Only now may a zero-live observation release the foreground wait;
	// an early crash of every phase-1 child must not tear down a
	// just-launched phase-2 sibling
	// 从此刻起零存活的观察才能释放前台等待；
	// 阶段 1 子进程全部提前崩溃不得拆除刚启动的阶段 2 兄弟进程
	o.sup.LaunchesComplete()

	// Step 3: Foreground wait until signal or no children remain
	// 步骤 3：前台等待，直到收到信号或无子进程存活
	fmt.Println("[3/4] Stack is up, waiting... / 服务栈已启动，等待中...")
	reason := o.sup.Wait(ctx)
	o.logger.Info("foreground wait released", zap.String("reason", string(reason)))

	// Step 4: Teardown of every tracked child
	// 步骤 4：拆除所有被跟踪子进程
	fmt.Println("[4/4] Shutting down... / 正在关闭...")
	o.sup.Terminate()
	o.launcher.WaitWatchers()

	fmt.Println("========================================")
	fmt.Println("  Launcher stopped. / 启动器已停止。")
	fmt.Println("========================================")
	return nil
}

// launchPhases launches every phase in ascending order. A phase's launches
// all complete (success or failure) before its gate runs; the gate
// completes before the next phase begins.
// launchPhases 按升序启动每个阶段。阶段内的启动全部完成（成功或失败）
// 后才运行该阶段的就绪门；就绪门完成后才开始下一阶段。
func (o *Orchestrator) launchPhases(ctx context.Context, phases []registry.Phase) {
	abortAll := false

	for _, phase := range phases {
		if abortAll || o.st.ShutdownRequested() {
			break
		}

		launched := o.launchPhase(phase, &abortAll)
		if len(launched) == 0 {
			continue
		}

		// Gate the phase / 阶段就绪门
		if err := o.gate.Await(ctx, specsOf(launched)); err != nil {
			if errors.Is(err, readiness.ErrReadinessTimeout) {
				// Surfaced but not fatal: only preflight aborts the run
				// 显式暴露但不致命：只有预检会中止运行
				o.logger.Warn("phase not ready within timeout, proceeding",
					zap.Int("phase", phase.Number),
					zap.Error(err))
			} else {
				// Context cancelled: shutdown is underway
				// 上下文已取消：关闭正在进行
				return
			}
		}

		// The gate passed (or expired): tracked children count as running
		// 就绪门通过（或到期）：被跟踪子进程视为运行中
		for _, h := range launched {
			h.MarkRunning()
		}
	}
}

// launchPhase launches all specs of one phase, applying the spawn policy
// on failure. It returns the handles created for this phase.
// launchPhase 启动一个阶段的所有规格，失败时应用派生策略。
// 返回该阶段创建的句柄。
func (o *Orchestrator) launchPhase(phase registry.Phase, abortAll *bool) []*state.ProcessHandle {
	fmt.Printf("  - Phase %d: launching %d service(s) / 阶段 %d：启动 %d 个服务\n",
		phase.Number, len(phase.Specs), phase.Number, len(phase.Specs))

	launched := make([]*state.ProcessHandle, 0, len(phase.Specs))
	for _, spec := range phase.Specs {
		handle, err := o.launcher.Launch(spec)
		if err != nil {
			// A failed spawn never retroactively kills already-launched
			// siblings; the policy only limits further launches
			// 派生失败绝不回溯杀死已启动的兄弟进程；策略只限制后续启动
			o.logger.Error("service launch failed",
				zap.String("service", spec.Name),
				zap.Int("phase", phase.Number),
				zap.Error(err))

			switch o.cfg.Launcher.SpawnPolicy {
			case config.SpawnPolicyAbortPhase:
				o.logger.Warn("aborting remaining launches of this phase",
					zap.Int("phase", phase.Number))
				return launched
			case config.SpawnPolicyAbortAll:
				o.logger.Warn("aborting all remaining launches")
				*abortAll = true
				return launched
			default:
				continue
			}
		}
		launched = append(launched, handle)
	}
	return launched
}

// specsOf extracts the specs behind a set of handles
// specsOf 提取一组句柄背后的规格
func specsOf(handles []*state.ProcessHandle) []registry.ServiceSpec {
	specs := make([]registry.ServiceSpec, 0, len(handles))
	for _, h := range handles {
		specs = append(specs, h.Spec)
	}
	return specs
}
