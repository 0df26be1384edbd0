package http

import (
	"context"
	"net/http"
	"time"
)

type Server struct {
	handler http.Handler
	srv     *http.Server
}

func NewServer(cfg RouterConfig) *Server {
	return &Server{handler: NewRouter(cfg)}
}

func (s *Server) Run(address string) error {
	s.srv = &http.Server{
		Addr:              address,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No write timeout: SSE streams stay open indefinitely.
	}
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
