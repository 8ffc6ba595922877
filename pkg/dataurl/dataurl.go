// Package dataurl reads and writes RFC 2397 data URLs.
package dataurl

import (
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
)

var ErrInvalid = errors.New("dataurl: invalid data url")

// Is reports whether s looks like a data URL.
func Is(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "data:")
}

// Decode returns the media type and payload of a data URL. Both base64 and
// percent-encoded payloads are accepted.
func Decode(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return "", nil, ErrInvalid
	}
	header, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return "", nil, ErrInvalid
	}
	isBase64 := false
	if strings.HasSuffix(header, ";base64") {
		isBase64 = true
		header = strings.TrimSuffix(header, ";base64")
	}
	mime := header
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	if mime == "" {
		mime = "text/plain"
	}
	if isBase64 {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
			if err != nil {
				return "", nil, ErrInvalid
			}
		}
		return mime, data, nil
	}
	unescaped, err := url.PathUnescape(payload)
	if err != nil {
		return "", nil, ErrInvalid
	}
	return mime, []byte(unescaped), nil
}

// MediaType returns the declared media type without decoding the payload.
func MediaType(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return ""
	}
	header, _, _ := strings.Cut(s[len("data:"):], ",")
	if i := strings.IndexAny(header, ";"); i >= 0 {
		header = header[:i]
	}
	return header
}

// Encode builds a base64 data URL.
func Encode(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
