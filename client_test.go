package rawclient_test

import (
	"sync"
	"testing"
	"time"

	rawclient "github.com/asynchttp/rawclient"
	"github.com/asynchttp/rawclient/internal/testserver"
)

func TestClient_GetOK(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	c := rawclient.New(rawclient.DefaultSettings())
	defer c.Close()

	ch := make(chan rawclient.Result, 1)
	if err := c.Get(func(r rawclient.Result) { ch <- r }, srv.URL+"/get", "", rawclient.SSLSettings{}); err != nil {
		t.Fatalf("Get: %v", err)
	}

	select {
	case r := <-ch:
		if r.Error != nil {
			t.Fatalf("Error = %v", r.Error)
		}
		if r.StatusCode != 200 {
			t.Errorf("StatusCode = %d, want 200", r.StatusCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestClient_PostEcho(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	c := rawclient.New(rawclient.DefaultSettings())
	defer c.Close()

	ch := make(chan rawclient.Result, 1)
	if err := c.Post(func(r rawclient.Result) { ch <- r }, srv.URL+"/echo", []byte("body"), "text/plain", "", rawclient.SSLSettings{}); err != nil {
		t.Fatalf("Post: %v", err)
	}

	select {
	case r := <-ch:
		if string(r.Body) != "body" {
			t.Errorf("Body = %q, want body", r.Body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestClient_FutureWait(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	c := rawclient.New(rawclient.DefaultSettings())
	defer c.Close()

	req, err := rawclient.NewRequest(rawclient.MethodGET, srv.URL+"/get")
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}

	result := c.ExecuteRequestFuture(req, "").Wait()
	if result.Error != nil {
		t.Fatalf("Error = %v", result.Error)
	}
}

func TestClient_GzipDecoded(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	c := rawclient.New(rawclient.DefaultSettings())
	defer c.Close()

	ch := make(chan rawclient.Result, 1)
	if err := c.Get(func(r rawclient.Result) { ch <- r }, srv.URL+"/gzip", "", rawclient.SSLSettings{}); err != nil {
		t.Fatalf("Get: %v", err)
	}

	select {
	case r := <-ch:
		if r.Error != nil {
			t.Fatalf("Error = %v", r.Error)
		}
		if string(r.Body) != "decompressed body" {
			t.Errorf("Body = %q, want decompressed body", r.Body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func TestClient_ManyParallelGetsShareConnections(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()

	c := rawclient.New(rawclient.DefaultSettings())
	defer c.Close()

	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		req, err := rawclient.NewRequest(rawclient.MethodGET, srv.URL+"/get")
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		c.ExecuteRequest(func(r rawclient.Result) {
			defer wg.Done()
			if r.Error != nil {
				t.Errorf("Error = %v", r.Error)
			}
		}, req, "")
	}
	wg.Wait()

	stats := c.PoolStats()
	if stats.TotalCreated == 0 {
		t.Errorf("expected some connections to have been created")
	}
	if stats.TotalReused == 0 {
		t.Errorf("expected later requests to reuse pooled connections")
	}
}

func TestClient_CloseStopsManager(t *testing.T) {
	c := rawclient.New(rawclient.DefaultSettings())
	c.Close()
	// A second Close-adjacent call (PoolStats after shutdown) should not panic.
	_ = c.PoolStats()
}
