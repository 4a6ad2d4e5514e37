// Package formdata extracts the first file part from a raw
// multipart/form-data body.
//
// The parser works on the whole body in memory and only decodes a short
// prefix of each part as text, so binary payloads are never interpreted.
package formdata

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
)

// headerPrefixLen bounds how much of a part is decoded as text when looking
// for its headers.
const headerPrefixLen = 512

var (
	ErrNotMultipart = errors.New("content type is not multipart/form-data")
	ErrNoBoundary   = errors.New("missing multipart boundary")
	ErrMalformed    = errors.New("malformed multipart body")
	ErrNoFile       = errors.New("no file found")
)

// IsClientError reports whether err describes a bad request body rather than
// a server-side failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNotMultipart) ||
		errors.Is(err, ErrNoBoundary) ||
		errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrNoFile)
}

// FilePart is a file part extracted from a multipart body.
type FilePart struct {
	// FieldName is the form field name, if present.
	FieldName string

	// Filename is the client-supplied file name, trimmed of whitespace and quotes.
	// It is not sanitised.
	Filename string

	// Data is the payload. It aliases the body passed to Parse.
	Data []byte
}

var (
	filenameRe  = regexp.MustCompile(`filename=("[^"]*"|[^;\r\n]*)`)
	fieldNameRe = regexp.MustCompile(`[;\s]name=("[^"]*"|[^;\r\n]*)`)
)

// Boundary returns the boundary parameter of a multipart/form-data content
// type.
func Boundary(contentType string) (string, error) {
	if !strings.Contains(strings.ToLower(contentType), "multipart/form-data") {
		return "", ErrNotMultipart
	}
	i := strings.Index(contentType, "boundary=")
	if i < 0 {
		return "", ErrNoBoundary
	}
	b := contentType[i+len("boundary="):]
	if j := strings.IndexByte(b, ';'); j >= 0 {
		b = b[:j]
	}
	b = strings.Trim(strings.TrimSpace(b), `"`)
	if b == "" {
		return "", ErrNoBoundary
	}
	return b, nil
}

// Parse returns the first part of body that carries a filename in its
// Content-Disposition header. Later file parts are ignored.
func Parse(contentType string, body []byte) (*FilePart, error) {
	boundary, err := Boundary(contentType)
	if err != nil {
		return nil, err
	}
	delim := []byte("--" + boundary)

	offsets := indexAll(body, delim)
	if len(offsets) < 2 {
		return nil, ErrMalformed
	}

	for i := 0; i+1 < len(offsets); i++ {
		part := body[offsets[i]+len(delim) : offsets[i+1]]
		if fp, ok := filePart(part); ok {
			return fp, nil
		}
	}
	return nil, ErrNoFile
}

// filePart inspects one part (the bytes between two delimiters).
func filePart(part []byte) (*FilePart, bool) {
	part = bytes.TrimPrefix(part, []byte("\r\n"))

	n := len(part)
	if n > headerPrefixLen {
		n = headerPrefixLen
	}
	header := string(part[:n])
	if !strings.Contains(header, "Content-Disposition") || !strings.Contains(header, "filename=") {
		return nil, false
	}

	sep := strings.Index(header, "\r\n\r\n")
	if sep < 0 {
		return nil, false
	}
	headers := header[:sep]

	m := filenameRe.FindStringSubmatch(headers)
	if m == nil {
		return nil, false
	}
	fp := &FilePart{Filename: trimValue(m[1])}
	if m := fieldNameRe.FindStringSubmatch(headers); m != nil {
		fp.FieldName = trimValue(m[1])
	}

	// Only the line break that precedes the next delimiter belongs to the
	// framing; anything before it is payload.
	data := part[sep+4:]
	if bytes.HasSuffix(data, []byte("\r\n")) {
		data = data[:len(data)-2]
	} else if bytes.HasSuffix(data, []byte("\n")) {
		data = data[:len(data)-1]
	}
	fp.Data = data
	return fp, true
}

func trimValue(v string) string {
	return strings.Trim(strings.TrimSpace(v), `"`)
}

// indexAll returns the start offset of every occurrence of sep in b.
func indexAll(b, sep []byte) []int {
	var out []int
	for off := 0; off <= len(b)-len(sep); {
		i := bytes.Index(b[off:], sep)
		if i < 0 {
			break
		}
		out = append(out, off+i)
		off += i + len(sep)
	}
	return out
}
