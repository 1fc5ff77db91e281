package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gamma-omg/guidesite/assetcache"
	"github.com/gamma-omg/guidesite/search"
	"github.com/gamma-omg/guidesite/serviceworker"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxMessageBytes = 1 << 20

type fetchWorker interface {
	HandleFetch(ctx context.Context, req *http.Request) (*assetcache.Response, error)
	HandleMessage(ctx context.Context, clientID string, raw []byte) *serviceworker.PrecacheDone
	Clients() *serviceworker.Clients
	Version() string
}

var hopHeaders = []string{
	"Connection",
	"Content-Length",
	"Keep-Alive",
	"Transfer-Encoding",
	"Upgrade",
}

func NewHTTPServer(log *slog.Logger, querier guideQuerier, sw fetchWorker, mcpHandler http.Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID))
			return nil
		},
	}))

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "worker": sw.Version()})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/api/search", func(c echo.Context) error {
		raw, err := readMessage(c)
		if err != nil {
			return c.NoContent(http.StatusNoContent)
		}

		// INIT belongs to the bundle registry, clients may only query.
		msg, ok := search.DecodeMessage(raw)
		q, isQuery := msg.(search.QueryMessage)
		if !ok || !isQuery {
			return c.NoContent(http.StatusNoContent)
		}

		res, err := querier.Query(c.Request().Context(), q)
		if err != nil {
			return c.NoContent(http.StatusNoContent)
		}

		return c.JSON(http.StatusOK, res)
	})

	e.POST("/sw/clients/:id", func(c echo.Context) error {
		client := sw.Clients().Register(c.Param("id"))
		return c.JSON(http.StatusOK, map[string]string{"id": client.ID, "controller": client.Controller()})
	})
	e.GET("/sw/clients/:id/messages", func(c echo.Context) error {
		msgs, ok := sw.Clients().Drain(c.Param("id"))
		if !ok {
			return c.NoContent(http.StatusNotFound)
		}

		return c.JSON(http.StatusOK, msgs)
	})
	e.DELETE("/sw/clients/:id", func(c echo.Context) error {
		sw.Clients().Forget(c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	})

	e.POST("/sw/message", func(c echo.Context) error {
		raw, err := readMessage(c)
		if err != nil {
			return c.NoContent(http.StatusNoContent)
		}

		clientID := c.Request().Header.Get("X-Client-ID")
		if clientID == "" {
			clientID = c.QueryParam("client")
		}

		done := sw.HandleMessage(c.Request().Context(), clientID, raw)
		if done == nil {
			return c.NoContent(http.StatusNoContent)
		}

		return c.JSON(http.StatusOK, done)
	})

	if mcpHandler != nil {
		e.Any("/sse", echo.WrapHandler(mcpHandler))
		e.Any("/message", echo.WrapHandler(mcpHandler))
	}

	e.Any("/*", func(c echo.Context) error {
		resp, err := sw.HandleFetch(c.Request().Context(), c.Request())
		if errors.Is(err, serviceworker.ErrNotHandled) {
			return c.String(http.StatusMisdirectedRequest, http.StatusText(http.StatusMisdirectedRequest))
		}
		if err != nil {
			log.Warn("fetch failed", slog.String("uri", c.Request().RequestURI), slog.String("error", err.Error()))
			return c.String(http.StatusBadGateway, http.StatusText(http.StatusBadGateway))
		}

		return writeResponse(c, resp)
	})

	return e
}

func readMessage(c echo.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request().Body, maxMessageBytes))
}

func writeResponse(c echo.Context, resp *assetcache.Response) error {
	h := c.Response().Header()
	for k, vs := range resp.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	for _, k := range hopHeaders {
		h.Del(k)
	}

	contentType := resp.Header.Get(echo.HeaderContentType)
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}

	return c.Blob(resp.Status, contentType, resp.Body)
}
