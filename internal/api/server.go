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

// Package api serves the launcher's local status API.
// api 包提供启动器的本地状态 API。
//
// The API is read-only JSON over HTTP: it reports the tracked process
// handles and the orchestrator state, and never controls the services.
// API 是只读的 HTTP JSON 接口：报告被跟踪的进程句柄和编排器状态，
// 从不控制服务本身。
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lbstack/launcher/internal/state"
)

// processView is the JSON shape of one tracked process
// processView 是单个被跟踪进程的 JSON 形态
type processView struct {
	Name      string    `json:"name"`
	Phase     int       `json:"phase"`
	Port      int       `json:"port"`
	PID       int       `json:"pid"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
	UptimeSec float64   `json:"uptime_seconds"`
}

// stateView is the JSON shape of the orchestrator state
// stateView 是编排器状态的 JSON 形态
type stateView struct {
	Tracked           int     `json:"tracked"`
	Live              int     `json:"live"`
	ShutdownRequested bool    `json:"shutdown_requested"`
	UptimeSec         float64 `json:"uptime_seconds"`
}

// Server is the local status API server.
// Server 是本地状态 API 服务器。
type Server struct {
	// st is the orchestrator state being reported
	// st 是被报告的编排器状态
	st *state.OrchestratorState

	// srv is the underlying HTTP server
	// srv 是底层 HTTP 服务器
	srv *http.Server

	// logger is the structured logger
	// logger 是结构化日志器
	logger *zap.Logger
}

// New creates the status API server bound to the given address
// New 创建绑定到给定地址的状态 API 服务器
func New(listen string, st *state.OrchestratorState, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		st:     st,
		logger: logger,
	}

	r.GET("/healthz", s.handleHealthz)
	v1 := r.Group("/api/v1")
	{
		v1.GET("/processes", s.handleProcesses)
		v1.GET("/state", s.handleState)
	}

	s.srv = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start serves the API in a background goroutine
// Start 在后台 goroutine 中提供 API 服务
func (s *Server) Start() {
	go func() {
		s.logger.Info("status API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// The API is auxiliary: a bind failure never stops the launcher
			// API 是辅助功能：绑定失败绝不终止启动器
			s.logger.Error("status API server error", zap.Error(err))
		}
	}()
}

// Stop shuts the API down with a short deadline
// Stop 在短暂期限内关闭 API
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

// handleHealthz reports launcher liveness
// handleHealthz 报告启动器存活状态
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleProcesses reports every tracked process handle
// handleProcesses 报告所有被跟踪的进程句柄
func (s *Server) handleProcesses(c *gin.Context) {
	handles := s.st.Handles()
	views := make([]processView, 0, len(handles))
	for _, h := range handles {
		views = append(views, processView{
			Name:      h.Spec.Name,
			Phase:     h.Spec.Phase,
			Port:      h.Spec.Port,
			PID:       h.PID,
			State:     string(h.State()),
			StartedAt: h.StartedAt,
			UptimeSec: h.Uptime().Seconds(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"processes": views})
}

// handleState reports the orchestrator-level state
// handleState 报告编排器级别的状态
func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, stateView{
		Tracked:           s.st.Len(),
		Live:              s.st.LiveCount(),
		ShutdownRequested: s.st.ShutdownRequested(),
		UptimeSec:         s.st.Uptime().Seconds(),
	})
}
