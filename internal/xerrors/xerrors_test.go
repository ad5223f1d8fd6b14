package xerrors_test

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/asynchttp/rawclient/internal/xerrors"
)

func TestKindOf(t *testing.T) {
	if k := xerrors.KindOf(nil); k != xerrors.KindNone {
		t.Errorf("KindOf(nil) = %q, want KindNone", k)
	}
	if k := xerrors.KindOf(xerrors.NewTimeout("read", time.Second)); k != xerrors.KindTimeout {
		t.Errorf("KindOf(timeout) = %q, want KindTimeout", k)
	}
	if k := xerrors.KindOf(errors.New("boom")); k != xerrors.KindTransport {
		t.Errorf("KindOf(unstructured) = %q, want KindTransport fallback", k)
	}
}

func TestIsTransient_BrokenPipeRetried(t *testing.T) {
	cause := errors.New("write: broken pipe")
	err := xerrors.NewTransportError("write", cause)
	if !xerrors.IsTransient(err) {
		t.Errorf("expected broken pipe to be transient")
	}
}

func TestIsTransient_CancelledNotRetried(t *testing.T) {
	err := xerrors.NewCancelled()
	if xerrors.IsTransient(err) {
		t.Errorf("expected a cancelled request not to be retried")
	}
}

func TestIsTransient_ClosedConnRetried(t *testing.T) {
	err := xerrors.NewTransportError("read", net.ErrClosed)
	if !xerrors.IsTransient(err) {
		t.Errorf("expected net.ErrClosed to be transient")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := xerrors.NewTransportError("dial", cause)
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is to find the wrapped cause")
	}
}

func TestErrorIs_MatchesByKind(t *testing.T) {
	a := xerrors.NewTimeout("read", time.Second)
	b := xerrors.NewTimeout("write", 2*time.Second)
	if !errors.Is(a, b) {
		t.Errorf("expected two Timeout errors to match via Is")
	}
}
