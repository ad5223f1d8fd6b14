package dispatch_test

import (
	"sync"
	"testing"

	"github.com/asynchttp/rawclient/internal/dispatch"
)

func TestSystemExecutor_RunsConcurrently(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		dispatch.System.Execute(func() { wg.Done() })
	}
	wg.Wait()
}

func TestInlineExecutor_RunsSynchronously(t *testing.T) {
	ran := false
	dispatch.Inline.Execute(func() { ran = true })
	if !ran {
		t.Errorf("expected Inline.Execute to run fn before returning")
	}
}
