package http

import (
	"net/http"
	"strings"

	"github.com/Pranjalshukla1602/task-manager/pkg/httputil"
	"github.com/Pranjalshukla1602/task-manager/pkg/logger"
)

// ContentTypeJSON rejects POST bodies that are not declared as JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.ContentLength != 0 {
			ct := r.Header.Get("Content-Type")
			if !strings.HasPrefix(ct, "application/json") {
				httputil.WriteJSON(w, http.StatusUnsupportedMediaType, httputil.Response{
					Error: &httputil.ErrorResponse{
						Code:      "UNSUPPORTED_MEDIA_TYPE",
						Message:   "Content-Type must be application/json",
						RequestID: logger.CorrelationIDFromContext(r.Context()),
					},
				})
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
		Error: &httputil.ErrorResponse{
			Code:      "NOT_FOUND",
			Message:   "Route " + r.URL.Path + " not found",
			RequestID: logger.CorrelationIDFromContext(r.Context()),
		},
	})
}
