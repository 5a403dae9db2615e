// serve.go hosts the handler over HTTP with echo.
//
// The host is deliberately thin: convert the incoming request, call Handle,
// write the response. Echo contributes request IDs, panic recovery, a body
// limit, and graceful shutdown; it interprets no FHIR semantics.

package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	// requestTimeout bounds one request end to end.
	requestTimeout = 30 * time.Second

	// shutdownTimeout bounds the drain of in-flight requests on shutdown.
	shutdownTimeout = 10 * time.Second

	// bodyLimit caps request bodies; transaction bundles are the largest
	// legitimate payloads.
	bodyLimit = "32M"
)

// Server hosts a Handler on a listen address.
type Server struct {
	e        *echo.Echo
	addr     string
	basePath string
}

// NewServer wires the handler into an echo instance. The path component of
// the service base URL is stripped from incoming requests, so a base URL of
// http://host/fhir serves under /fhir.
func NewServer(h *Handler, addr string) *Server {
	s := &Server{e: echo.New(), addr: addr, basePath: basePath(h.base)}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(middleware.RequestID())
	s.e.Use(middleware.Recover())
	s.e.Use(middleware.BodyLimit(bodyLimit))

	s.e.Any("/", s.dispatch(h))
	s.e.Any("/*", s.dispatch(h))
	return s
}

// Run serves until the context is cancelled, then drains and stops.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		errc <- s.e.Start(s.addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.e.Shutdown(sctx)
	}
}

// dispatch adapts one echo request into the handler's types and back.
func (s *Server) dispatch(h *Handler) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		resp := h.Handle(ctx, &Request{
			Method:   r.Method,
			Path:     s.stripBase(r.URL.Path),
			RawQuery: r.URL.RawQuery,
			Header:   r.Header,
			Body:     body,
		})

		header := c.Response().Header()
		for k, vs := range resp.Header {
			for _, v := range vs {
				header.Add(k, v)
			}
		}
		if len(resp.Body) == 0 {
			return c.NoContent(resp.Status)
		}
		return c.Blob(resp.Status, resp.Header.Get("Content-Type"), resp.Body)
	}
}

func (s *Server) stripBase(path string) string {
	if s.basePath != "" && strings.HasPrefix(path, s.basePath) {
		return path[len(s.basePath):]
	}
	return path
}

// basePath extracts the path component of the configured base URL.
func basePath(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Path == "/" {
		return ""
	}
	return strings.TrimRight(u.Path, "/")
}
