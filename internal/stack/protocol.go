package stack

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/asynchttp/rawclient/internal/reqres"
	"github.com/asynchttp/rawclient/internal/xerrors"
)

// protocol is layer C2: HTTP/1.1 request framing and response parsing on
// top of a transport's byte stream. It has no opinion on content-encoding
// or timeouts; those belong to C3/C4 above it.
const maxHeaderBytes = 64 * 1024

// writeRequest serializes req onto w in HTTP/1.1 wire format.
func writeRequest(w io.Writer, req reqres.Request) (int, error) {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %s%s HTTP/1.1\r\n", req.Method, req.URL.Path, req.URL.Query)

	hasHost := false
	hasContentLength := false
	for _, h := range req.Headers {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return 0, xerrors.NewValidationError(fmt.Sprintf("invalid header field name %q", h.Name))
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return 0, xerrors.NewValidationError(fmt.Sprintf("invalid header field value for %q", h.Name))
		}
		if strings.EqualFold(h.Name, "Host") {
			hasHost = true
		}
		if strings.EqualFold(h.Name, "Content-Length") {
			hasContentLength = true
		}
		fmt.Fprintf(&buf, "%s: %s\r\n", h.Name, h.Value)
	}
	if !hasHost {
		fmt.Fprintf(&buf, "Host: %s\r\n", req.URL.Host)
	}
	if !hasContentLength && len(req.Body) > 0 {
		fmt.Fprintf(&buf, "Content-Length: %d\r\n", len(req.Body))
	}
	buf.WriteString("\r\n")
	if len(req.Body) > 0 {
		buf.Write(req.Body)
	}

	return w.Write(buf.Bytes())
}

// responseHead holds everything the status-line-and-headers parse produces.
type responseHead struct {
	StatusCode int
	Headers    []reqres.Header
	KeepAlive  bool
}

// parseResponseHead reads the status line and header block from r.
func parseResponseHead(r *bufio.Reader) (responseHead, error) {
	statusLine, err := readLine(r)
	if err != nil {
		return responseHead{}, xerrors.NewParseError("status_line", err)
	}

	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return responseHead{}, xerrors.NewParseError("status_line", fmt.Errorf("malformed status line %q", statusLine))
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return responseHead{}, xerrors.NewParseError("status_code", err)
	}

	headers, err := parseHeaders(r)
	if err != nil {
		return responseHead{}, err
	}

	keepAlive := true
	if strings.HasPrefix(parts[0], "HTTP/1.0") {
		keepAlive = false
	}
	if v, ok := headerValue(headers, "Connection"); ok {
		keepAlive = !strings.EqualFold(strings.TrimSpace(v), "close")
	}

	return responseHead{StatusCode: code, Headers: headers, KeepAlive: keepAlive}, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseHeaders(r *bufio.Reader) ([]reqres.Header, error) {
	var headers []reqres.Header
	total := 0
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, xerrors.NewParseError("headers", err)
		}
		total += len(line)
		if total > maxHeaderBytes {
			return nil, xerrors.NewParseError("headers", fmt.Errorf("header block exceeds %d bytes", maxHeaderBytes))
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}
		if (strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t")) && len(headers) > 0 {
			last := &headers[len(headers)-1]
			last.Value += " " + strings.TrimSpace(trimmed)
			continue
		}
		nv := strings.SplitN(trimmed, ":", 2)
		if len(nv) != 2 {
			continue
		}
		headers = append(headers, reqres.Header{
			Name:  textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(nv[0])),
			Value: strings.TrimSpace(nv[1]),
		})
	}
	return headers, nil
}

func headerValue(headers []reqres.Header, name string) (string, bool) {
	for _, h := range headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// hasBody reports whether a response carrying this status code to this
// method is permitted a body at all, per RFC 9110 §6.4.1: 1xx, 204, 304,
// and any response to HEAD never carry one.
func hasBody(method reqres.Method, statusCode int) bool {
	if method == reqres.MethodHEAD {
		return false
	}
	if statusCode >= 100 && statusCode < 200 {
		return false
	}
	return statusCode != 204 && statusCode != 304
}

// readBody reads the response body according to the framing headers:
// chunked transfer-encoding, a fixed Content-Length, or read-until-close.
// It writes the de-framed bytes to dst still content-encoded; the encoding
// layer decodes them afterwards.
func readBody(r *bufio.Reader, headers []reqres.Header, method reqres.Method, statusCode int, dst io.Writer) error {
	if !hasBody(method, statusCode) {
		return nil
	}

	te, _ := headerValue(headers, "Transfer-Encoding")
	cl, hasCL := headerValue(headers, "Content-Length")

	switch {
	case strings.Contains(strings.ToLower(te), "chunked"):
		return readChunkedBody(r, dst)
	case hasCL:
		length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
		if err != nil || length < 0 {
			return xerrors.NewParseError("content_length", fmt.Errorf("invalid Content-Length %q", cl))
		}
		_, err = io.CopyN(dst, r, length)
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return xerrors.NewParseError("body", io.ErrUnexpectedEOF)
		}
		return err
	default:
		_, err := io.Copy(dst, r)
		if err == io.EOF {
			return nil
		}
		return err
	}
}

func readChunkedBody(r *bufio.Reader, dst io.Writer) error {
	tp := textproto.NewReader(r)
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return xerrors.NewParseError("chunk_size", err)
		}
		sizeStr := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
		size, err := strconv.ParseInt(sizeStr, 16, 64)
		if err != nil {
			return xerrors.NewParseError("chunk_size", err)
		}
		if size == 0 {
			break
		}
		if _, err := io.CopyN(dst, tp.R, size); err != nil {
			return xerrors.NewParseError("chunk_body", err)
		}
		crlf := make([]byte, 2)
		if _, err := io.ReadFull(tp.R, crlf); err != nil {
			return xerrors.NewParseError("chunk_crlf", err)
		}
	}
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return xerrors.NewParseError("trailer", err)
		}
		if line == "" {
			break
		}
	}
	return nil
}
