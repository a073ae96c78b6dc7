package fetch

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	sanitize "github.com/mrz1836/go-sanitize"
	"golang.org/x/net/idna"
)

// NormalizeURL validates user input and prepends https:// when no scheme is
// given.
func NormalizeURL(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("empty URL")
	}
	if !strings.Contains(input, "://") {
		input = "https://" + input
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("missing host")
	}
	u.Fragment = ""
	return u.String(), nil
}

// LocalPath maps a URL to a relative forward-slash path below a directory
// named after the host. IDN hosts are decoded to unicode and a non-default
// port is kept as a "_port" suffix.
//
// When pretty is true, extension-less last segments are treated as
// directories holding index.html, query parameters are folded into the file
// name before the extension and every segment is reduced to [a-zA-Z0-9_-].
//
// Otherwise the URL structure is preserved. Only characters that are not
// allowed in Windows file names are percent-encoded, and the query is
// appended to the file name as %3F<query>.
func LocalPath(rawURL string, pretty bool) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "unknown"
	}
	host := hostDir(u)
	isDir := u.Path == "" || strings.HasSuffix(u.Path, "/")

	var rest string
	if pretty {
		rest = prettyPath(u, isDir)
	} else {
		rest = rawPath(u, isDir)
	}
	return host + "/" + rest
}

func hostDir(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	if decoded, err := idna.ToUnicode(host); err == nil {
		host = decoded
	}
	if host == "" {
		host = "unknown"
	}
	if port := u.Port(); port != "" {
		host += "_" + port
	}
	return encodeForFS(host)
}

func prettyPath(u *url.URL, isDir bool) string {
	var segments []string
	for seg := range strings.SplitSeq(strings.Trim(u.Path, "/"), "/") {
		if s := sanitizeSegment(seg); s != "" {
			segments = append(segments, s)
		}
	}

	dirSegs := segments
	filename := indexName(u.RawQuery)
	if !isDir && len(segments) > 0 {
		last := segments[len(segments)-1]
		if ext := path.Ext(last); ext != "" {
			dirSegs = segments[:len(segments)-1]
			filename = last[:len(last)-len(ext)] + querySuffix(u.RawQuery) + ext
		}
	}
	return joinPath(dirSegs, filename)
}

func rawPath(u *url.URL, isDir bool) string {
	// EscapedPath keeps existing %xx sequences intact.
	var segments []string
	for seg := range strings.SplitSeq(strings.Trim(u.EscapedPath(), "/"), "/") {
		if seg != "" {
			segments = append(segments, encodeForFS(seg))
		}
	}

	if isDir || len(segments) == 0 {
		filename := "index.html"
		if u.RawQuery != "" {
			filename += "%3F" + encodeForFS(u.RawQuery)
		}
		return joinPath(segments, filename)
	}

	last := segments[len(segments)-1]
	if u.RawQuery != "" {
		last += "%3F" + encodeForFS(u.RawQuery)
	}
	return joinPath(segments[:len(segments)-1], last)
}

func joinPath(dirs []string, file string) string {
	if len(dirs) == 0 {
		return file
	}
	return strings.Join(dirs, "/") + "/" + file
}

// encodeForFS percent-encodes \ : * ? " < > | and ASCII control characters.
// '/' is not encoded; callers split on it first.
func encodeForFS(s string) string {
	const hexChars = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == '\\' || c == ':' || c == '*' || c == '?' ||
			c == '"' || c == '<' || c == '>' || c == '|' {
			b.WriteByte('%')
			b.WriteByte(hexChars[c>>4])
			b.WriteByte(hexChars[c&0xf])
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// sanitizeSegment sanitizes one path segment. The extension is split off
// first because PathName strips dots.
func sanitizeSegment(seg string) string {
	if seg == "" {
		return ""
	}
	ext := path.Ext(seg)
	if ext == "" {
		return sanitize.PathName(seg)
	}
	base := sanitize.PathName(seg[:len(seg)-len(ext)])
	extPart := sanitize.PathName(ext[1:])
	if base == "" {
		base = "file"
	}
	if extPart == "" {
		return base
	}
	return base + "." + extPart
}

func indexName(rawQuery string) string {
	return "index" + querySuffix(rawQuery) + ".html"
}

// querySuffix turns a raw query into a "_key_value" suffix, or "".
func querySuffix(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	decoded, err := url.QueryUnescape(rawQuery)
	if err != nil {
		decoded = rawQuery
	}
	q := strings.NewReplacer("=", "_", "&", "_").Replace(decoded)
	s := sanitize.PathName(q)
	if s == "" {
		return ""
	}
	return "_" + s
}
