package wire

import (
	"bytes"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/badu/evhttp/hdr"
)

// Cookie is a response Set-Cookie attribute set.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	Domain   string
	Expires  time.Time
	MaxAge   int
	HttpOnly bool
	Secure   bool
}

// SetCookie appends a Set-Cookie header for c onto h. A cookie with an
// invalid name is silently dropped rather than producing garbage output.
func SetCookie(h hdr.Header, c *Cookie) {
	if s := c.String(); s != "" {
		h.Add(hdr.SetCookieHeader, s)
	}
}

// String serializes c for a Set-Cookie header. Returns "" if c is nil or
// c.Name is invalid.
func (c *Cookie) String() string {
	if c == nil || !isCookieNameValid(c.Name) {
		return ""
	}
	var b bytes.Buffer
	b.WriteString(sanitizeCookieName(c.Name))
	b.WriteByte('=')
	b.WriteString(sanitizeCookieValue(c.Value))

	if len(c.Path) > 0 {
		b.WriteString("; Path=")
		b.WriteString(sanitizeCookiePath(c.Path))
	}
	if len(c.Domain) > 0 {
		if validCookieDomain(c.Domain) {
			d := c.Domain
			if d[0] == '.' {
				d = d[1:]
			}
			b.WriteString("; Domain=")
			b.WriteString(d)
		}
	}
	if !c.Expires.IsZero() {
		b.WriteString("; Expires=")
		b.WriteString(c.Expires.UTC().Format(hdr.TimeFormat))
	}
	if c.MaxAge > 0 {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(c.MaxAge))
	} else if c.MaxAge < 0 {
		b.WriteString("; Max-Age=0")
	}
	if c.HttpOnly {
		b.WriteString("; HttpOnly")
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	return b.String()
}

func isCookieNameValid(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !hdr.IsTokenRune(r) {
			return false
		}
	}
	return true
}

func sanitizeCookieName(n string) string {
	return okCookieRunes(n, func(r rune) bool { return r != ';' && r != ' ' })
}

// sanitizeCookieValue keeps printable US-ASCII (space included) except
// double quote, semicolon and backslash, dropping every other byte. A
// value whose first byte is a space or comma is then wrapped in double
// quotes.
func sanitizeCookieValue(v string) string {
	v = okCookieRunes(v, validCookieValueByte)
	if len(v) == 0 {
		return v
	}
	if v[0] == ' ' || v[0] == ',' {
		return `"` + v + `"`
	}
	return v
}

func validCookieValueByte(r rune) bool {
	return 0x20 <= r && r < 0x7f && r != '"' && r != ';' && r != '\\'
}

func sanitizeCookiePath(v string) string {
	return okCookieRunes(v, func(r rune) bool { return 0x20 <= r && r < 0x7f && r != ';' })
}

func okCookieRunes(s string, valid func(rune) bool) string {
	ok := true
	for _, r := range s {
		if !valid(r) {
			ok = false
			break
		}
	}
	if ok {
		return s
	}
	buf := make([]rune, 0, len(s))
	for _, r := range s {
		if valid(r) {
			buf = append(buf, r)
		}
	}
	return string(buf)
}

func validCookieDomain(v string) bool {
	if isCookieDomainName(v) {
		return true
	}
	return false
}

func isCookieDomainName(s string) bool {
	if len(s) == 0 {
		return false
	}
	if len(s) > 255 {
		return false
	}
	if s[0] == '.' {
		s = s[1:]
	}
	last := byte('.')
	ok := false
	partlen := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || c == '_':
			ok = true
			partlen++
		case '0' <= c && c <= '9':
			partlen++
		case c == '-':
			if last == '.' {
				return false
			}
			partlen++
		case c == '.':
			if last == '.' || last == '-' {
				return false
			}
			if partlen > 63 || partlen == 0 {
				return false
			}
			partlen = 0
		default:
			if utf8.RuneStart(c) {
				return false
			}
		}
		last = c
	}
	if last == '-' || partlen > 63 {
		return false
	}
	return ok
}
