// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package hexcode decodes the loosely formatted hex strings typed into the
// remote control form. Anything that is not a hex digit is ignored, so codes
// may be pasted with spaces, line breaks or separators.
package hexcode

const invalid = 0xFF

var nibbles = func() (t [256]byte) {
	for i := range t {
		t[i] = invalid
	}
	for c := '0'; c <= '9'; c++ {
		t[c] = byte(c - '0')
	}
	for c := 'a'; c <= 'f'; c++ {
		t[c] = byte(c-'a') + 10
		t[c-'a'+'A'] = byte(c-'a') + 10
	}
	return
}()

// Nibble returns the value of the hex digit c.
func Nibble(c byte) (byte, bool) {
	v := nibbles[c]
	return v, v != invalid
}

// Decode decodes the hex digits of src into dst, high nibble first, and
// returns the number of bytes written. It stops when dst is full. A trailing
// unpaired digit is dropped.
func Decode(dst []byte, src string) int {
	n := 0
	var hi byte
	half := false
	for i := 0; i < len(src) && n < len(dst); i++ {
		v, ok := Nibble(src[i])
		if !ok {
			continue
		}
		if !half {
			hi = v
			half = true
			continue
		}
		dst[n] = hi<<4 | v
		n++
		half = false
	}
	return n
}
