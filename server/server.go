package server

import (
	"context"
	"fmt"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/services/logging"
)

type Server struct {
	echo   *echo.Echo
	config *config.Config
	logger *logging.Service
}

func New(cfg *config.Config, logger *logging.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())

	return &Server{
		echo:   e,
		config: cfg,
		logger: logger,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%s", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("starting server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) Get(path string, handler echo.HandlerFunc, mw ...echo.MiddlewareFunc) {
	s.echo.GET(path, handler, mw...)
}

func (s *Server) Post(path string, handler echo.HandlerFunc, mw ...echo.MiddlewareFunc) {
	s.echo.POST(path, handler, mw...)
}

func (s *Server) Group(prefix string, mw ...echo.MiddlewareFunc) *echo.Group {
	return s.echo.Group(prefix, mw...)
}

func (s *Server) Echo() *echo.Echo {
	return s.echo
}
