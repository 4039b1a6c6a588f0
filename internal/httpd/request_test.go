// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.
package httpd

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Request
		ok   bool
	}{
		{"get", "GET / HTTP/1.1\r\n\r\n", Request{GetIndex: 0, PostIndex: -1}, true},
		{"post", "POST / HTTP/1.1\r\n\r\ncode=00", Request{GetIndex: -1, PostIndex: 0}, true},
		{"favicon", "GET /favicon.ico HTTP/1.1\r\n", Request{GetIndex: 0, PostIndex: -1, Favicon: true}, false},
		{"other method", "PUT / HTTP/1.1\r\n", Request{GetIndex: -1, PostIndex: -1}, false},
		{"late marker", "xxGET /", Request{GetIndex: 2, PostIndex: -1}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRequest([]byte(tt.raw))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseRequest() mismatch (-want +got):\n%s", diff)
			}
			if got.Answerable() != tt.ok {
				t.Errorf("Answerable() = %v, want %v", got.Answerable(), tt.ok)
			}
		})
	}
}

func TestFieldValue(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{"last line", "POST / HTTP/1.1\r\nHost: a\r\n\r\ncode=0000006c", "0000006c", nil},
		{"trailing newlines", "POST /\n\ncode=00ff\r\n\r\n", "00ff", nil},
		{"other fields", "POST /\n\nname=tv&code=0a0b&x=1", "0a0b", nil},
		{"escaped", "POST /\n\ncode=00+6c%0D%0A", "00 6c\r\n", nil},
		{"bad escape kept", "POST /\n\ncode=00%zz", "00%zz", nil},
		{"empty value", "POST /\n\ncode=", "", nil},
		{"nul terminated", "POST /\n\ncode=01\x00garbage\n", "01", nil},
		{"prefix is not the field", "POST /\n\ncoder=01", "", ErrFieldNotFound},
		{"headers only", "GET / HTTP/1.1\r\nHost: a\r\n\r\n", "", ErrFieldNotFound},
		{"empty", "", "", ErrFieldNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FieldValue([]byte(tt.raw), "code")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FieldValue() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FieldValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResponse(t *testing.T) {
	head := string(appendHead(nil))
	want := "HTTP/1.0 200 OK\r\nContent-Type: text/html\r\n\r\n<html><body><span style=\"color:#0000A0\">\r\n<h1>OpenRemote</h1>\r\n<h3>Please Enter Pronto Code Below:</h3>\r\n<p><form method=\"POST\">\r\n"
	if diff := cmp.Diff(want, head); diff != "" {
		t.Errorf("head mismatch (-want +got):\n%s", diff)
	}

	tail := string(appendTail(nil, 4))
	want = "Code: <textarea name=\"code\" rows=\"5\" cols=\"30\"></textarea><br />\r\n<input type=\"submit\">\r\n</form>4</p></span></body></html>\r\n"
	if diff := cmp.Diff(want, tail); diff != "" {
		t.Errorf("tail mismatch (-want +got):\n%s", diff)
	}
}
