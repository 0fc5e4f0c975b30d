package health

import (
	"context"
	"net/http"
	"time"

	"wiretide/internal/models"

	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// Version проставляется при сборке (-ldflags "-X wiretide/internal/health.Version=...").
var Version = "dev"

// RegisterRoutes: /healthz (liveness) и /health (статус + версия).
func RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		models.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
	}).Methods(http.MethodGet)
}

// RegisterRoutesWithDB добавляет /readyz с пингом БД.
func RegisterRoutesWithDB(r *mux.Router, db *gorm.DB) {
	RegisterRoutes(r)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			models.WriteProblem(w, http.StatusServiceUnavailable, "Not ready", "database unavailable", nil)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ready"))
	}).Methods(http.MethodGet)
}
