package logger

import (
	"fmt"
	"net/http"
	"time"

	"ms-raffle/internal/utils"

	"github.com/go-chi/chi/v5/middleware"
)

// Middleware logs one API line per request and tags the response with a request ID.
func (l *Logger) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = utils.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		l.LogAPI(r.Method, r.URL.Path, fmt.Sprint(status), time.Since(start).Round(time.Millisecond).String())
	})
}
