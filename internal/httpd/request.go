// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package httpd

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrFieldNotFound is returned when the request body has no such field.
var ErrFieldNotFound = errors.New("httpd: field not found")

const (
	getMarker     = "GET /"
	postMarker    = "POST /"
	faviconMarker = "favicon"
)

// Request summarises what the engine needs to know about a received request.
type Request struct {
	// GetIndex and PostIndex are the first offsets of "GET /" and "POST /", or -1.
	GetIndex  int
	PostIndex int
	// Favicon is set when the request mentions the favicon anywhere.
	Favicon bool
}

// ParseRequest scans a raw request.
func ParseRequest(raw []byte) Request {
	return Request{
		GetIndex:  bytes.Index(raw, []byte(getMarker)),
		PostIndex: bytes.Index(raw, []byte(postMarker)),
		Favicon:   bytes.Contains(raw, []byte(faviconMarker)),
	}
}

// Answerable reports whether the request gets the form in reply.
func (r Request) Answerable() bool {
	return (r.GetIndex >= 0 || r.PostIndex >= 0) && !r.Favicon
}

// FieldValue returns the value of field name from the request body.
//
// The body is taken to be the last non-empty line of raw. It is split on '&'
// into key=value pairs and the value of the first matching key is returned,
// URL-unescaped when it is valid escaping and verbatim otherwise.
func FieldValue(raw []byte, name string) (string, error) {
	body := lastLine(raw)
	for _, pair := range strings.Split(body, "&") {
		key, value, _ := strings.Cut(pair, "=")
		if key != name {
			continue
		}
		if v, err := url.QueryUnescape(value); err == nil {
			return v, nil
		}
		return value, nil
	}
	return "", fmt.Errorf("%w: %q", ErrFieldNotFound, name)
}

// lastLine returns the last line of raw that is not empty once CR is trimmed.
func lastLine(raw []byte) string {
	// stop at a NUL terminator left by the receive path
	if i := bytes.IndexByte(raw, 0); i >= 0 {
		raw = raw[:i]
	}
	for len(raw) > 0 {
		i := bytes.LastIndexByte(raw, '\n')
		line := bytes.TrimRight(raw[i+1:], "\r")
		if len(line) > 0 {
			return string(line)
		}
		if i < 0 {
			break
		}
		raw = raw[:i]
	}
	return ""
}
