package middleware

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"wiretide/internal/logs"
	"wiretide/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

type ctxKey struct{}

// RequestID берёт X-Request-ID клиента или генерирует новый.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// GetRequestID возвращает id запроса из контекста ("" если нет).
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Recoverer превращает панику обработчика в 500.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logs.Logger.WithFields(logrus.Fields{
					"request_id": GetRequestID(r.Context()),
					"panic":      rec,
				}).Errorf("handler panic\n%s", debug.Stack())
				models.WriteProblem(w, http.StatusInternalServerError, "Internal error", "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// StatusRecorder запоминает код ответа для логов и метрик.
type StatusRecorder struct {
	http.ResponseWriter
	Status int
	Bytes  int
}

func (s *StatusRecorder) WriteHeader(code int) {
	if s.Status == 0 {
		s.Status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *StatusRecorder) Write(b []byte) (int, error) {
	if s.Status == 0 {
		s.Status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.Bytes += n
	return n, err
}

// Code: итоговый статус (200, если обработчик ничего не записал).
func (s *StatusRecorder) Code() int {
	if s.Status == 0 {
		return http.StatusOK
	}
	return s.Status
}

// LoggerMW пишет строку access-лога на каждый запрос.
func LoggerMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &StatusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		entry := logs.Logger.WithFields(logrus.Fields{
			"request_id": GetRequestID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.Code(),
			"bytes":      rec.Bytes,
			"duration":   time.Since(start).String(),
			"remote":     r.RemoteAddr,
		})
		switch {
		case rec.Code() >= 500:
			entry.Error("request")
		case rec.Code() >= 400:
			entry.Warn("request")
		default:
			entry.Debug("request")
		}
	})
}
