/*
 * Copyright (c) 2018 The Go Authors. All rights reserved.
 * Use of this source code is governed by a BSD-style license that can be found in the LICENSE file.
 */

// Package hdr implements the ordered, case-insensitive header multimap
// used for both requests and responses.
package hdr

import (
	"strings"
	"sync"
	"time"
)

const toLower = 'a' - 'A'

// Well-known header names, canonicalized.
const (
	Accept             = "Accept"
	AcceptEncoding     = "Accept-Encoding"
	AcceptRanges       = "Accept-Ranges"
	Allow              = "Allow"
	Authorization      = "Authorization"
	CacheControl       = "Cache-Control"
	Connection         = "Connection"
	ContentDisposition = "Content-Disposition"
	ContentEncoding    = "Content-Encoding"
	ContentLength      = "Content-Length"
	ContentRange       = "Content-Range"
	ContentType        = "Content-Type"
	CookieHeader       = "Cookie"
	Date               = "Date"
	Etag               = "Etag"
	Expect             = "Expect"
	Host               = "Host"
	IfModifiedSince    = "If-Modified-Since"
	IfNoneMatch        = "If-None-Match"
	KeepAlive          = "Keep-Alive"
	LastModified       = "Last-Modified"
	Location           = "Location"
	Origin             = "Origin"
	Range              = "Range"
	RetryAfter         = "Retry-After"
	SecWebSocketAccept = "Sec-Websocket-Accept"
	SecWebSocketKey    = "Sec-Websocket-Key"
	SecWebSocketProto  = "Sec-Websocket-Protocol"
	SecWebSocketVer    = "Sec-Websocket-Version"
	ServerHeader       = "Server"
	SetCookieHeader    = "Set-Cookie"
	TransferEncoding   = "Transfer-Encoding"
	UpgradeHeader      = "Upgrade"
	UserAgent          = "User-Agent"
	XRateLimitLimit    = "X-Ratelimit-Limit"
	XRateLimitRemain   = "X-Ratelimit-Remaining"
	XRateLimitReset    = "X-Ratelimit-Reset"

	// TimeFormat is the time format to use when generating times in HTTP
	// headers. It is like time.RFC1123 but hard-codes GMT as the time
	// zone.
	TimeFormat = "Mon, 02 Jan 2006 15:04:05 GMT"
)

var (
	timeFormats = []string{
		TimeFormat,
		time.RFC850,
		time.ANSIC,
	}

	// HeaderNewlineToSpace strips CR/LF from header values before they
	// are written to the wire, closing off header injection/smuggling
	// via embedded newlines.
	HeaderNewlineToSpace = strings.NewReplacer("\n", " ", "\r", " ")

	headerSorterPool = sync.Pool{
		New: func() any { return new(headerSorter) },
	}

	commonHeader = make(map[string]string)

	// isTokenTable is the set of bytes allowed in an RFC 7230 token
	// (header field name).
	isTokenTable = [127]bool{
		'0': true, '1': true, '2': true, '3': true, '4': true, '5': true, '6': true, '7': true,
		'8': true, '9': true,

		'a': true, 'b': true, 'c': true, 'd': true, 'e': true, 'f': true, 'g': true, 'h': true,
		'i': true, 'j': true, 'k': true, 'l': true, 'm': true, 'n': true, 'o': true, 'p': true,
		'q': true, 'r': true, 's': true, 't': true, 'u': true, 'v': true, 'w': true, 'x': true,
		'y': true, 'z': true,

		'A': true, 'B': true, 'C': true, 'D': true, 'E': true, 'F': true, 'G': true, 'H': true,
		'I': true, 'J': true, 'K': true, 'L': true, 'M': true, 'N': true, 'O': true, 'P': true,
		'Q': true, 'R': true, 'S': true, 'T': true, 'U': true, 'V': true, 'W': true, 'X': true,
		'Y': true, 'Z': true,

		'!': true, '#': true, '$': true, '%': true, '&': true, '\'': true, '*': true, '+': true,
		'-': true, '.': true, '^': true, '_': true, '`': true, '|': true, '~': true,
	}
)

type (
	// Header represents the key-value pairs in an HTTP header, preserving
	// insertion order of distinct values for a repeated key.
	Header map[string][]string

	writeStringer interface {
		WriteString(string) (int, error)
	}

	stringWriter struct {
		w ioWriter
	}

	ioWriter interface {
		Write([]byte) (int, error)
	}

	keyValues struct {
		key    string
		values []string
	}

	headerSorter struct {
		kvs []keyValues
	}
)

func init() {
	for _, v := range []string{
		Accept, AcceptEncoding, AcceptRanges, Allow, Authorization, CacheControl, Connection,
		ContentDisposition, ContentEncoding, ContentLength, ContentRange, ContentType,
		CookieHeader, Date, Etag, Expect, Host, IfModifiedSince, IfNoneMatch, KeepAlive,
		LastModified, Location, Origin, Range, RetryAfter, SecWebSocketAccept,
		SecWebSocketKey, SecWebSocketProto, SecWebSocketVer, ServerHeader, SetCookieHeader,
		TransferEncoding, UpgradeHeader, UserAgent, XRateLimitLimit, XRateLimitRemain,
		XRateLimitReset,
	} {
		commonHeader[v] = v
	}
}
