// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api serves the dashboard REST API.
package api

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/tank-scada/pkg/cache"
	"github.com/united-manufacturing-hub/tank-scada/pkg/logger"
	"github.com/united-manufacturing-hub/tank-scada/pkg/models"
	"github.com/united-manufacturing-hub/tank-scada/pkg/plc"
	"github.com/united-manufacturing-hub/tank-scada/pkg/sink"
)

// ButtonTracker learns about button states the API wrote to the PLC.
type ButtonTracker interface {
	Remember(state models.ButtonState)
}

type Server struct {
	mirror  *sink.Mirror
	source  plc.Source
	buttons ButtonTracker
	cache   *cache.Cache
	now     func() time.Time
	log     *zap.SugaredLogger

	shuttingDown atomic.Bool
}

// NewServer creates the API. buttons and c may be nil.
func NewServer(mirror *sink.Mirror, source plc.Source, buttons ButtonTracker, c *cache.Cache) *Server {
	log := logger.For(logger.ComponentAPI)
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Server{
		mirror:  mirror,
		source:  source,
		buttons: buttons,
		cache:   c,
		now:     time.Now,
		log:     log,
	}
}

// SetClock replaces the wall clock used for timestamps.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
}

// SetShuttingDown makes GET / report "shutdown".
func (s *Server) SetShuttingDown() {
	s.shuttingDown.Store(true)
}

// Router builds the gin engine with all routes.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	// Access log and panics go to zap.
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(cors.Default())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/", func(c *gin.Context) {
		if s.shuttingDown.Load() {
			c.String(http.StatusOK, "shutdown")
		} else {
			c.String(http.StatusOK, "online")
		}
	})

	api := router.Group("/api")
	{
		api.GET("/data", s.getData)
		api.GET("/setpoint", s.getSetpoint)
		api.POST("/setpoint", s.postSetpoint)
		api.GET("/botones", s.getButtons)
		api.POST("/botones", s.postButtons)
	}

	return router
}

// HTTPServer wraps the router into a server listening on port.
func (s *Server) HTTPServer(port int) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) handleInternalServerError(c *gin.Context, message string, err error) {
	s.log.Errorw(
		"Internal server error",
		"path", c.FullPath(),
		"error", err,
	)

	c.JSON(http.StatusInternalServerError, gin.H{"error": message, "details": err.Error()})
}

func (s *Server) handleInvalidInputError(c *gin.Context, err error) {
	s.log.Warnw(
		"Invalid input error",
		"path", c.FullPath(),
		"error", err,
	)

	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
}
