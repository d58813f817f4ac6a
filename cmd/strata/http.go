package main

import (
	"net/http"
	"strings"
)

// NoStore is an http.Handler that keeps browsers from caching API responses,
// which change whenever the collection does.
func NoStore(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "no-store")
		}

		h.ServeHTTP(w, r)
	})
}
