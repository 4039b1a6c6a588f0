// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package httpd

import "strconv"

// The form is sent in two parts. The second one reports the decoded byte count.
const (
	responseHead = "HTTP/1.0 200 OK\r\nContent-Type: text/html\r\n\r\n" +
		"<html><body><span style=\"color:#0000A0\">\r\n" +
		"<h1>OpenRemote</h1>\r\n" +
		"<h3>Please Enter Pronto Code Below:</h3>\r\n" +
		"<p><form method=\"POST\">\r\n"

	responseFormTail = "Code: <textarea name=\"code\" rows=\"5\" cols=\"30\"></textarea><br />\r\n" +
		"<input type=\"submit\">\r\n</form>"

	responseFooter = "</p></span></body></html>\r\n"
)

// appendHead appends the first response part to dst.
func appendHead(dst []byte) []byte {
	return append(dst, responseHead...)
}

// appendTail appends the second response part reporting count to dst.
func appendTail(dst []byte, count int) []byte {
	dst = append(dst, responseFormTail...)
	dst = strconv.AppendInt(dst, int64(count), 10)
	return append(dst, responseFooter...)
}
