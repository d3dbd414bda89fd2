package wire

import (
	"strconv"
	"strings"
)

// parseRequestLine parses "METHOD SP target SP HTTP/major.minor".
func parseRequestLine(line string) (method Method, target string, major, minor int, err error) {
	line = strings.TrimSuffix(line, "\r")
	sp1 := strings.IndexByte(line, ' ')
	if sp1 < 0 {
		return "", "", 0, 0, &ParseError{"request-line", "missing method"}
	}
	sp2 := strings.LastIndexByte(line, ' ')
	if sp2 <= sp1 {
		return "", "", 0, 0, &ParseError{"request-line", "missing target or version"}
	}

	m := Method(line[:sp1])
	if !validMethods[m] {
		return "", "", 0, 0, &ParseError{"request-line", "unknown method " + string(m)}
	}

	target = line[sp1+1 : sp2]
	if target == "" {
		return "", "", 0, 0, &ParseError{"request-line", "empty target"}
	}

	version := line[sp2+1:]
	maj, min, ok := parseHTTPVersion(version)
	if !ok {
		return "", "", 0, 0, &ParseError{"request-line", "bad HTTP version " + version}
	}
	return m, target, maj, min, nil
}

func parseHTTPVersion(v string) (major, minor int, ok bool) {
	const prefix = "HTTP/"
	if !strings.HasPrefix(v, prefix) {
		return 0, 0, false
	}
	v = v[len(prefix):]
	dot := strings.IndexByte(v, '.')
	if dot < 0 {
		return 0, 0, false
	}
	maj, err := strconv.Atoi(v[:dot])
	if err != nil {
		return 0, 0, false
	}
	min, err := strconv.Atoi(v[dot+1:])
	if err != nil {
		return 0, 0, false
	}
	if maj != 1 || (min != 0 && min != 1) {
		return 0, 0, false
	}
	return maj, min, true
}
