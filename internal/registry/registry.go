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

// Package registry holds the static description of the services the launcher manages.
// registry 包保存启动器所管理服务的静态描述。
//
// This package provides:
// 此包提供：
// - ServiceSpec definition / ServiceSpec 定义
// - Compiled-in default service set / 编译期内置的默认服务集合
// - Phase grouping for ordered launch / 用于有序启动的阶段分组
// - Registry validation / 注册表校验
package registry

import (
	"errors"
	"fmt"
	"sort"
)

// Common errors for registry validation
// 注册表校验的常见错误
var (
	// ErrEmptyRegistry indicates the registry contains no service specs
	// ErrEmptyRegistry 表示注册表不包含任何服务规格
	ErrEmptyRegistry = errors.New("service registry is empty")

	// ErrInvalidSpec indicates a service spec failed validation
	// ErrInvalidSpec 表示服务规格校验失败
	ErrInvalidSpec = errors.New("invalid service spec")
)

// ServiceSpec is the immutable description of one service to launch.
// ServiceSpec 是要启动的单个服务的不可变描述。
//
// The launcher treats the service as a black box: only the command and
// the expected listening port are known, never the service's protocol.
// 启动器将服务视为黑盒：只知道启动命令和预期监听端口，不关心服务协议。
type ServiceSpec struct {
	// Name is the unique service name
	// Name 是唯一的服务名称
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Command is the executable to run
	// Command 是要运行的可执行文件
	Command string `json:"command" yaml:"command" mapstructure:"command"`

	// Args are the command arguments, in order
	// Args 是按顺序排列的命令参数
	Args []string `json:"args,omitempty" yaml:"args,omitempty" mapstructure:"args"`

	// Port is the port the service is expected to listen on
	// Port 是服务预期监听的端口
	Port int `json:"port" yaml:"port" mapstructure:"port"`

	// Phase is the launch phase; lower phases launch first
	// Phase 是启动阶段；阶段号小的先启动
	Phase int `json:"phase" yaml:"phase" mapstructure:"phase"`
}

// String returns a short description of the spec (for logs)
// String 返回规格的简短描述（用于日志）
func (s ServiceSpec) String() string {
	return fmt.Sprintf("%s (phase %d, port %d)", s.Name, s.Phase, s.Port)
}

// Validate checks a single spec for structural problems
// Validate 检查单个规格的结构性问题
func (s ServiceSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSpec)
	}
	if s.Command == "" {
		return fmt.Errorf("%w: %s: command is required", ErrInvalidSpec, s.Name)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: %s: port %d out of range", ErrInvalidSpec, s.Name, s.Port)
	}
	if s.Phase < 1 {
		return fmt.Errorf("%w: %s: phase must be >= 1", ErrInvalidSpec, s.Name)
	}
	return nil
}

// Registry is an ordered, validated set of service specs.
// Registry 是经过校验的有序服务规格集合。
type Registry struct {
	specs []ServiceSpec
}

// Default returns the compiled-in registry for the stack:
// three backend workers in phase 1 and the dispatcher in phase 2.
// Default 返回编译期内置的注册表：
// 阶段 1 的三个后端 worker 和阶段 2 的 dispatcher。
func Default() *Registry {
	r, err := New([]ServiceSpec{
		{Name: "worker-1", Command: "python3", Args: []string{"server.py", "8001"}, Port: 8001, Phase: 1},
		{Name: "worker-2", Command: "python3", Args: []string{"server.py", "8002"}, Port: 8002, Phase: 1},
		{Name: "worker-3", Command: "python3", Args: []string{"server.py", "8003"}, Port: 8003, Phase: 1},
		{Name: "dispatcher", Command: "python3", Args: []string{"main.py"}, Port: 8080, Phase: 2},
	})
	if err != nil {
		// The table is compile-time data; an invalid entry is a programming error
		// 该表是编译期数据；无效条目属于编程错误
		panic(fmt.Sprintf("built-in service registry invalid: %v", err))
	}
	return r
}

// New builds a registry from the given specs after validating them
// New 在校验后从给定规格构建注册表
func New(specs []ServiceSpec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, ErrEmptyRegistry
	}

	names := make(map[string]bool, len(specs))
	ports := make(map[int]bool, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if names[s.Name] {
			return nil, fmt.Errorf("%w: duplicate service name %q", ErrInvalidSpec, s.Name)
		}
		if ports[s.Port] {
			return nil, fmt.Errorf("%w: %s: duplicate port %d", ErrInvalidSpec, s.Name, s.Port)
		}
		names[s.Name] = true
		ports[s.Port] = true
	}

	// Copy to keep the registry immutable after construction
	// 复制以保证注册表在构建后不可变
	copied := make([]ServiceSpec, len(specs))
	copy(copied, specs)

	return &Registry{specs: copied}, nil
}

// Specs returns all specs in registration order
// Specs 按注册顺序返回所有规格
func (r *Registry) Specs() []ServiceSpec {
	out := make([]ServiceSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Len returns the number of registered specs
// Len 返回已注册规格的数量
func (r *Registry) Len() int {
	return len(r.specs)
}

// Phase is one launch phase: all specs sharing the same phase number.
// Phase 是一个启动阶段：共享同一阶段号的所有规格。
type Phase struct {
	// Number is the phase ordinal
	// Number 是阶段序号
	Number int

	// Specs are the services launched in this phase, in registration order
	// Specs 是此阶段启动的服务，按注册顺序排列
	Specs []ServiceSpec
}

// Phases groups the specs by phase number in strictly ascending order.
// Within a phase, registration order is preserved.
// Phases 按阶段号严格升序对规格分组。
// 同一阶段内保持注册顺序。
func (r *Registry) Phases() []Phase {
	byPhase := make(map[int][]ServiceSpec)
	for _, s := range r.specs {
		byPhase[s.Phase] = append(byPhase[s.Phase], s)
	}

	numbers := make([]int, 0, len(byPhase))
	for n := range byPhase {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	phases := make([]Phase, 0, len(numbers))
	for _, n := range numbers {
		phases = append(phases, Phase{Number: n, Specs: byPhase[n]})
	}
	return phases
}
