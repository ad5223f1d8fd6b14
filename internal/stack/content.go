package stack

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/asynchttp/rawclient/internal/reqres"
	"github.com/asynchttp/rawclient/internal/timing"
	"github.com/asynchttp/rawclient/internal/urlx"
	"github.com/asynchttp/rawclient/internal/xerrors"
)

// Stack is the four-layer connection the manager drives one request at a
// time: transport (C1) for the socket, protocol (C2) for HTTP/1.1 framing,
// encoding (C3) for transparent content-encoding, and this file (C4) for
// per-request timeout enforcement and Result synthesis. A Stack serves
// requests strictly sequentially — HTTP/1.1 has no multiplexing — so the
// manager must not call Do concurrently on the same Stack.
type Stack struct {
	key       string
	tr        *transport
	br        *bufio.Reader
	createdAt time.Time
}

// Key returns the pool key this Stack is bound to, "host:port".
func (s *Stack) Key() string { return s.key }

// Key computes the pool key for a URL without dialing, so callers can look
// up an idle Stack before deciding whether a new one is needed.
func Key(u urlx.URL) string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// Dial establishes a brand new Stack for u.
func Dial(ctx context.Context, u urlx.URL, ssl reqres.SSLSettings, timer *timing.Timer) (*Stack, error) {
	tr, err := dialTransport(ctx, u, ssl, timer)
	if err != nil {
		return nil, err
	}
	return &Stack{
		key:       Key(u),
		tr:        tr,
		br:        bufio.NewReader(tr),
		createdAt: time.Now(),
	}, nil
}

// IsOpen reports whether the underlying connection still looks alive; the
// pool consults this before handing an idle Stack back out.
func (s *Stack) IsOpen() bool {
	if s.br.Buffered() > 0 {
		return true
	}
	return s.tr.isOpen()
}

// Close tears down the underlying connection.
func (s *Stack) Close() error { return s.tr.Close() }

// ConnMeta reports the connection diagnostics captured at dial time.
func (s *Stack) ConnMeta(reused bool) *reqres.ConnMeta {
	m := s.tr.connMeta
	m.ConnectionReused = reused
	return &m
}

// Do executes one request over this Stack. It returns the synthesized
// Result, whether the connection remains usable for another request
// (keepAlive), and a fatal error when the connection itself is broken and
// must not be returned to the pool. A write or read failure, a timeout, or
// malformed framing returns a non-nil fatal alongside result.Error. A body
// that fails content decoding is reported through result.Error only, and
// the caller decides pool disposition from keepAlive.
func (s *Stack) Do(ctx context.Context, req reqres.Request, timer *timing.Timer, reused bool) (result reqres.Result, keepAlive bool, fatal error) {
	deadline := time.Now().Add(time.Duration(req.EffectiveTimeoutMS()) * time.Millisecond)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	s.tr.SetDeadline(deadline)
	defer s.tr.SetDeadline(time.Time{})

	onWire := maybeCompressBody(req)

	n, err := writeRequest(countingWriter{w: s.tr, timer: timer}, onWire)
	_ = n
	if err != nil {
		return reqres.ErrResult(classifyIOError("write_request", err, deadline), timer.Stats()), false, err
	}

	head, err := parseResponseHead(s.br)
	if err != nil {
		return reqres.ErrResult(classifyIOError("parse_head", err, deadline), timer.Stats()), false, err
	}

	var wireBody, bodyBuf bytes.Buffer
	if err := readBody(bufio.NewReader(countingBodyReader{r: s.br, timer: timer}), head.Headers, req.Method, head.StatusCode, &wireBody); err != nil {
		return reqres.ErrResult(classifyIOError("read_body", err, deadline), timer.Stats()), false, err
	}

	if wireBody.Len() > 0 {
		decoded, err := decodingReader(&wireBody, head.Headers)
		if err == nil {
			if _, cerr := io.Copy(&bodyBuf, decoded); cerr != nil {
				err = xerrors.NewParseError("decode_body", cerr)
			}
		}
		if err != nil {
			return reqres.ErrResult(err.(*xerrors.Error), timer.Stats()), head.KeepAlive, nil
		}
	}

	result = reqres.Result{
		StatusCode: head.StatusCode,
		Headers:    head.Headers,
		Body:       bodyBuf.Bytes(),
		Stats:      timer.Stats(),
		ConnMeta:   s.ConnMeta(reused),
	}
	return result, head.KeepAlive, nil
}

// classifyIOError turns a raw I/O failure into the structured taxonomy:
// a deadline exceeded becomes Timeout, everything else becomes whatever
// xerrors constructor the originating layer already attached, or a
// transport error as a fallback.
func classifyIOError(op string, err error, deadline time.Time) *xerrors.Error {
	if time.Now().After(deadline) {
		return xerrors.NewTimeout(op, time.Until(deadline))
	}
	if already, ok := err.(*xerrors.Error); ok {
		return already
	}
	return xerrors.NewTransportError(op, err)
}

// countingWriter tees bytes written through it into the timer's upload
// counter so Stats().BytesUp reflects exactly what went out on the wire.
type countingWriter struct {
	w     io.Writer
	timer *timing.Timer
}

func (c countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.timer.AddBytesUp(n)
	return n, err
}

// countingBodyReader tees bytes read off the wire into the timer's
// download counter before the encoding layer ever sees them, so BytesDown
// reflects wire bytes rather than post-decompression bytes.
type countingBodyReader struct {
	r     io.Reader
	timer *timing.Timer
}

func (c countingBodyReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.timer.AddBytesDown(n)
	return n, err
}
