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

// Package readiness gates progression between launch phases.
// readiness 包在启动阶段之间设置就绪门。
//
// Two gate modes are supported:
// 支持两种就绪门模式：
// - delay: fixed sleep, then unconditional progress / 固定休眠后无条件放行
// - poll: TCP dial each service port until ready or timeout / 轮询拨号每个服务端口直到就绪或超时
package readiness

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lbstack/launcher/internal/config"
	"github.com/lbstack/launcher/internal/registry"
)

// Common errors for the readiness gate
// 就绪门的常见错误
var (
	// ErrReadinessTimeout indicates services did not accept connections in time.
	// The gate's caller decides whether to proceed; the error names the services.
	// ErrReadinessTimeout 表示服务未在限时内接受连接。
	// 是否继续由调用方决定；错误中会列出未就绪的服务。
	ErrReadinessTimeout = errors.New("readiness timeout")
)

// Dialer abstracts TCP dialing (for testing)
// Dialer 抽象 TCP 拨号（用于测试）
type Dialer interface {
	// DialContext dials the address; nil means the port is accepting
	// DialContext 拨号指定地址；返回 nil 表示端口可接受连接
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Gate blocks between launch phases until the phase's services are
// assumed (delay mode) or observed (poll mode) to be ready.
// Gate 在启动阶段之间阻塞，直到该阶段的服务被假定就绪（delay 模式）
// 或被观测到就绪（poll 模式）。
type Gate struct {
	// cfg is the readiness configuration
	// cfg 是就绪门配置
	cfg config.ReadinessConfig

	// dialer performs the poll-mode connection attempts
	// dialer 执行 poll 模式的连接尝试
	dialer Dialer

	// logger is the structured logger
	// logger 是结构化日志器
	logger *zap.Logger
}

// New creates a Gate with the default net dialer
// New 创建使用默认 net 拨号器的 Gate
func New(cfg config.ReadinessConfig, logger *zap.Logger) *Gate {
	return NewWithDialer(cfg, &net.Dialer{}, logger)
}

// NewWithDialer creates a Gate with a custom dialer (for testing)
// NewWithDialer 使用自定义拨号器创建 Gate（用于测试）
func NewWithDialer(cfg config.ReadinessConfig, dialer Dialer, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{cfg: cfg, dialer: dialer, logger: logger}
}

// Await blocks until the given specs are considered ready.
// The gate never retries a phase and never blocks forever: delay mode
// sleeps the configured duration; poll mode is bounded by the configured
// timeout and returns ErrReadinessTimeout naming the unready services.
// Context cancellation (shutdown) releases the gate immediately.
// Await 阻塞直到给定规格被认为就绪。
// 就绪门不重试且不会无限阻塞：delay 模式休眠配置的时长；
// poll 模式受配置的超时限制，超时返回列出未就绪服务的 ErrReadinessTimeout。
// 上下文取消（关闭）会立即释放就绪门。
func (g *Gate) Await(ctx context.Context, specs []registry.ServiceSpec) error {
	if len(specs) == 0 {
		return nil
	}

	switch g.cfg.Mode {
	case config.ReadinessModeDelay:
		return g.awaitDelay(ctx)
	default:
		return g.awaitPoll(ctx, specs)
	}
}

// awaitDelay is the fixed-sleep gate
// awaitDelay 是固定休眠的就绪门
func (g *Gate) awaitDelay(ctx context.Context) error {
	g.logger.Info("readiness gate: fixed delay", zap.Duration("delay", g.cfg.Delay))
	timer := time.NewTimer(g.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// awaitPoll dials every spec's port until all accept or the timeout elapses
// awaitPoll 拨号每个规格的端口，直到全部可接受连接或超时
func (g *Gate) awaitPoll(ctx context.Context, specs []registry.ServiceSpec) error {
	deadline := time.Now().Add(g.cfg.Timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	pending := make(map[string]int, len(specs))
	for _, s := range specs {
		pending[s.Name] = s.Port
	}

	g.logger.Info("readiness gate: polling service ports",
		zap.Int("services", len(pending)),
		zap.Duration("timeout", g.cfg.Timeout),
		zap.Duration("interval", g.cfg.Interval))

	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		for name, port := range pending {
			if g.dialOnce(pollCtx, port) {
				g.logger.Info("service ready",
					zap.String("service", name),
					zap.Int("port", port))
				delete(pending, name)
			}
		}
		if len(pending) == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pollCtx.Done():
			return fmt.Errorf("%w after %v: %s", ErrReadinessTimeout, g.cfg.Timeout, names(pending))
		case <-ticker.C:
		}
	}
}

// dialOnce attempts a single TCP connection to the local port
// dialOnce 向本地端口尝试一次 TCP 连接
func (g *Gate) dialOnce(ctx context.Context, port int) bool {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	dialCtx, cancel := context.WithTimeout(ctx, g.cfg.Interval)
	defer cancel()

	conn, err := g.dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// names joins the pending service names for the timeout error
// names 连接未就绪服务的名称，用于超时错误
func names(pending map[string]int) string {
	out := make([]string, 0, len(pending))
	for name := range pending {
		out = append(out, name)
	}
	return strings.Join(out, ", ")
}
