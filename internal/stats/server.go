package stats

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
)

// DebugServer wraps the metrics mux in logging and panic-recovery
// middleware. It is only started when a debug address is configured.
func DebugServer(addr string, logDst io.Writer, mux *http.ServeMux) *http.Server {
	handler := handlers.RecoveryHandler()(handlers.LoggingHandler(logDst, mux))
	return &http.Server{
		Addr:    addr,
		Handler: handler,
	}
}
