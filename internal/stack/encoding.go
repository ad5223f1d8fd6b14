package stack

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"log/slog"

	"github.com/asynchttp/rawclient/internal/reqres"
	"github.com/asynchttp/rawclient/internal/xerrors"
)

// encoding is layer C3: it sits between the wire bytes the protocol layer
// reads and the plain bytes content assembles into a Result, transparently
// decoding gzip/deflate bodies the way a browser would. The client never
// surfaces a "Content-Encoding: gzip" body undecoded; RFC 7231 treats
// encoding as a transport detail, not part of the representation the
// caller asked for.
//
// There is no third-party compression library anywhere in the retrieved
// pack, so gzip/deflate here use compress/gzip and compress/flate from the
// standard library, as does logging (log/slog); only header validation
// reaches for an ecosystem package (golang.org/x/net/http/httpguts).

// decodingReader wraps r with a reader that transparently reverses
// Content-Encoding, based on the response headers. An unrecognized
// encoding is passed through unchanged rather than rejected, matching how
// a raw HTTP client should behave in the face of an unusual server.
func decodingReader(r io.Reader, headers []reqres.Header) (io.Reader, error) {
	enc, ok := headerValue(headers, "Content-Encoding")
	if !ok || enc == "" || enc == "identity" {
		return r, nil
	}
	switch enc {
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, xerrors.NewParseError("gzip", err)
		}
		return gz, nil
	case "deflate":
		return flate.NewReader(r), nil
	default:
		slog.Debug("unknown content-encoding, passing through as identity", "encoding", enc)
		return r, nil
	}
}

// maybeCompressBody applies gzip compression to an outbound request body
// according to policy, adding the matching Content-Encoding header. When
// the server never asked for it and policy is WhenBetter, compression is
// only kept if it actually shrinks the payload.
func maybeCompressBody(req reqres.Request) reqres.Request {
	if len(req.Body) == 0 || req.CompressionPolicy == reqres.CompressionNever {
		return req
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(req.Body); err != nil {
		return req
	}
	if err := zw.Close(); err != nil {
		return req
	}

	if req.CompressionPolicy == reqres.CompressionWhenBetter && buf.Len() >= len(req.Body) {
		return req
	}

	req.Body = buf.Bytes()
	req.Headers = append(append([]reqres.Header{}, req.Headers...), reqres.Header{Name: "Content-Encoding", Value: "gzip"})
	return req
}
