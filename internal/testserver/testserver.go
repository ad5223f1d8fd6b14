// Package testserver provides the deterministic HTTP endpoints (component
// C9) the package tests drive requests against: fixed 200s, a POST echo,
// a redirect, a gzip-compressed body, an endpoint that never responds
// (for timeout tests), and one that closes the connection mid-response.
// It is a net/http/httptest harness in the same spirit as the teacher's
// own tests/unit/pool_multiconn_test.go, generalized into a reusable
// fixture instead of one-off inline handlers per test.
package testserver

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"
)

// Server wraps an httptest.Server exposing the scenario endpoints below.
type Server struct {
	*httptest.Server
}

// New starts a Server on an ephemeral local port.
func New() *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/get", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Method", r.Method)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "hello")
	})

	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})

	mux.HandleFunc("/redirect", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/get")
		w.WriteHeader(http.StatusFound)
	})

	mux.HandleFunc("/gzip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)
		gz := gzip.NewWriter(w)
		io.WriteString(gz, "decompressed body")
		gz.Close()
	})

	mux.HandleFunc("/never", func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "slow")
	})

	mux.HandleFunc("/close", func(w http.ResponseWriter, r *http.Request) {
		hj, ok := w.(http.Hijacker)
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		conn, _, err := hj.Hijack()
		if err != nil {
			return
		}
		fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Length: 10\r\n\r\npartial")
		conn.Close()
	})

	return &Server{Server: httptest.NewServer(mux)}
}
