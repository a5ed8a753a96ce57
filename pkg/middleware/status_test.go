package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestStatusRecorder(t *testing.T) {
	rec := newStatusRecorder(httptest.NewRecorder())
	assert.Equal(t, http.StatusOK, rec.status)

	rec.WriteHeader(http.StatusCreated)
	rec.WriteHeader(http.StatusInternalServerError)
	_, _ = rec.Write([]byte("hello"))

	assert.Equal(t, http.StatusCreated, rec.status)
	assert.Equal(t, 5, rec.bytes)
	assert.Same(t, rec, newStatusRecorder(rec), "nested middleware share one recorder")
}

func TestRoutePattern(t *testing.T) {
	assert.Empty(t, routePattern(httptest.NewRequest(http.MethodGet, "/x", nil)))

	var got string
	r := chi.NewRouter()
	r.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		got = routePattern(r)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/users/42", nil))
	assert.Equal(t, "/users/{id}", got)
}
