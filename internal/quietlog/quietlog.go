// Package quietlog provides request logging that stays silent for
// successful GET requests.
package quietlog

import (
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/sirupsen/logrus"
)

// ShouldLog reports whether a request with the given method and response
// status produces a log line. Only GET requests answered with 200 are dropped.
func ShouldLog(method string, status int) bool {
	return method != http.MethodGet || status != http.StatusOK
}

// Middleware wraps next so that every response except a 200 GET is logged to
// log, tagged with the server name. 5xx responses log at error level, 4xx at
// warn and everything else at info.
func Middleware(name string, log logrus.FieldLogger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		status := m.Code
		if !ShouldLog(r.Method, status) {
			return
		}

		requestLine := fmt.Sprintf("%s %s %s", r.Method, r.URL.RequestURI(), r.Proto)
		entry := log.WithFields(logrus.Fields{
			"server":   name,
			"remote":   r.RemoteAddr,
			"method":   r.Method,
			"path":     r.URL.Path,
			"proto":    r.Proto,
			"status":   status,
			"bytes":    m.Written,
			"duration": m.Duration,
		})
		msg := fmt.Sprintf("%q %d %d", requestLine, status, m.Written)
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error(msg)
		case status >= http.StatusBadRequest:
			entry.Warn(msg)
		default:
			entry.Info(msg)
		}
	})
}
