package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lk2023060901/filedepot/internal/conf"
	"github.com/lk2023060901/filedepot/internal/file/service"
	"github.com/lk2023060901/filedepot/internal/pkg/logger"
)

type HTTPServer struct {
	server *http.Server
	log    *logger.Logger
}

func NewHTTPServer(
	config *conf.Config,
	log *logger.Logger,
	fileService *service.FileService,
	health HealthChecker,
) *HTTPServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(logger.GinRecovery(log))
	router.Use(logger.GinLogger(log))

	router.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		checks := health.Check(c.Request.Context())
		for _, err := range checks {
			if err != nil {
				status = http.StatusServiceUnavailable
				break
			}
		}
		body := gin.H{"time": time.Now().UTC().Format(time.RFC3339)}
		for name, err := range checks {
			if err != nil {
				body[name] = "down"
			} else {
				body[name] = "ok"
			}
		}
		if status == http.StatusOK {
			body["status"] = "ok"
		} else {
			body["status"] = "degraded"
		}
		c.JSON(status, body)
	})

	api := router.Group("/api/v1")
	fileService.RegisterRoutes(api)

	admin := api.Group("/admin")
	admin.Use(AdminAuth(config.Auth))
	fileService.RegisterAdminRoutes(admin)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)

	return &HTTPServer{
		server: &http.Server{
			Addr:    addr,
			Handler: router,
		},
		log: log,
	}
}

func (s *HTTPServer) Start() error {
	s.log.Info("starting HTTP server on " + s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.log.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
