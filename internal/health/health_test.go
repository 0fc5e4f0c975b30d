package health

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"wiretide/internal/db"

	"github.com/gorilla/mux"
)

func TestRoutes(t *testing.T) {
	d, err := db.Open(db.Options{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatal(err)
	}
	r := mux.NewRouter()
	RegisterRoutesWithDB(r, d)

	for _, tc := range []struct {
		path string
		code int
		body string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/readyz", http.StatusOK, "ready"},
		{"/health", http.StatusOK, `"version":"dev"`},
	} {
		t.Run(tc.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
			if rr.Code != tc.code || !strings.Contains(rr.Body.String(), tc.body) {
				t.Errorf("%s: code = %d body = %q", tc.path, rr.Code, rr.Body.String())
			}
		})
	}

	sqlDB, _ := d.DB()
	_ = sqlDB.Close()
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("closed db: /readyz code = %d, want 503", rr.Code)
	}
}
