package stack_test

import (
	"context"
	"strings"
	"testing"

	"github.com/asynchttp/rawclient/internal/reqres"
	"github.com/asynchttp/rawclient/internal/stack"
	"github.com/asynchttp/rawclient/internal/testserver"
	"github.com/asynchttp/rawclient/internal/timing"
	"github.com/asynchttp/rawclient/internal/urlx"
)

func dialToServer(t *testing.T, srv *testserver.Server) *stack.Stack {
	t.Helper()
	u, err := urlx.Parse(srv.URL)
	if err != nil {
		t.Fatalf("urlx.Parse(%q): %v", srv.URL, err)
	}
	s, err := stack.Dial(context.Background(), u, reqres.SSLSettings{}, timing.NewTimer())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return s
}

func TestStack_GetOK(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	s := dialToServer(t, srv)
	defer s.Close()

	u, _ := urlx.Parse(srv.URL + "/get")
	req := reqres.Request{Method: reqres.MethodGET, URL: u}

	result, keepAlive, fatal := s.Do(context.Background(), req, timing.NewTimer(), false)
	if fatal != nil {
		t.Fatalf("fatal error: %v", fatal)
	}
	if result.Error != nil {
		t.Fatalf("result.Error = %v", result.Error)
	}
	if result.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", result.StatusCode)
	}
	if string(result.Body) != "hello" {
		t.Errorf("Body = %q, want %q", result.Body, "hello")
	}
	if !keepAlive {
		t.Errorf("expected keepAlive = true")
	}
}

func TestStack_HeadHasNoBody(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	s := dialToServer(t, srv)
	defer s.Close()

	u, _ := urlx.Parse(srv.URL + "/get")
	req := reqres.Request{Method: reqres.MethodHEAD, URL: u}

	result, _, fatal := s.Do(context.Background(), req, timing.NewTimer(), false)
	if fatal != nil {
		t.Fatalf("fatal error: %v", fatal)
	}
	if len(result.Body) != 0 {
		t.Errorf("expected empty body for HEAD, got %q", result.Body)
	}
}

func TestStack_PostEcho(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	s := dialToServer(t, srv)
	defer s.Close()

	u, _ := urlx.Parse(srv.URL + "/echo")
	req := reqres.Request{
		Method: reqres.MethodPOST,
		URL:    u,
		Body:   []byte("payload"),
	}

	result, _, fatal := s.Do(context.Background(), req, timing.NewTimer(), false)
	if fatal != nil {
		t.Fatalf("fatal error: %v", fatal)
	}
	if string(result.Body) != "payload" {
		t.Errorf("Body = %q, want %q", result.Body, "payload")
	}
}

func TestStack_GzipDecoded(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	s := dialToServer(t, srv)
	defer s.Close()

	u, _ := urlx.Parse(srv.URL + "/gzip")
	req := reqres.Request{Method: reqres.MethodGET, URL: u}

	result, _, fatal := s.Do(context.Background(), req, timing.NewTimer(), false)
	if fatal != nil {
		t.Fatalf("fatal error: %v", fatal)
	}
	if string(result.Body) != "decompressed body" {
		t.Errorf("Body = %q, want decompressed text", result.Body)
	}
}

func TestStack_RedirectHeaderSurfaced(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	s := dialToServer(t, srv)
	defer s.Close()

	u, _ := urlx.Parse(srv.URL + "/redirect")
	req := reqres.Request{Method: reqres.MethodGET, URL: u}

	result, _, fatal := s.Do(context.Background(), req, timing.NewTimer(), false)
	if fatal != nil {
		t.Fatalf("fatal error: %v", fatal)
	}
	if result.StatusCode != 302 {
		t.Fatalf("StatusCode = %d, want 302", result.StatusCode)
	}
	loc, ok := result.HeaderValue("Location")
	if !ok || !strings.HasSuffix(loc, "/get") {
		t.Errorf("Location = %q, ok=%v", loc, ok)
	}
}
