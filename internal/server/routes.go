package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/berfenger/everblu2mqtt/internal/core/domain"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
			LogURI:    true,
			LogMethod: true,
			LogStatus: true,
			LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
				s.logger.Info("http request",
					zap.String("method", v.Method), zap.String("uri", v.URI), zap.Int("status", v.Status))
				return nil
			},
		}))
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/status", s.StatusHandler)
	e.POST("/reading", s.TriggerReadingHandler)
	e.POST("/scan", s.TriggerScanHandler)
	e.POST("/frequency/reset", s.ResetFrequencyHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetMeterStatusRequest{}, 5*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.GetMeterStatusResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	return c.JSON(http.StatusOK, NewStatusView(response.Status))
}

func (s *Server) TriggerReadingHandler(c echo.Context) error {
	return s.command(c, domain.TriggerReadingRequest{})
}

func (s *Server) TriggerScanHandler(c echo.Context) error {
	return s.command(c, domain.TriggerScanRequest{Wide: c.QueryParam("wide") == "true"})
}

func (s *Server) ResetFrequencyHandler(c echo.Context) error {
	return s.command(c, domain.ResetFrequencyRequest{})
}

// command sends a meter command and maps a busy radio to 409.
func (s *Server) command(c echo.Context, req domain.ActorRequest) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, req, 5*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	response, ok := res.(domain.ActorResponse)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "unexpected response")
	}
	if err := response.GetResponseError(); err != nil {
		if errors.Is(err, domain.ErrSessionBusy) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusAccepted)
}
