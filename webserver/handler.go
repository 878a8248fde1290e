package webserver

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

const indexFile = "index.html"

type response struct {
	status      int
	contentType string
	body        []byte
	headOnly    bool
}

func simple(status int, body string) response {
	return response{status: status, contentType: "text/plain; charset=utf-8", body: []byte(body)}
}

// writeTo sends the header block and, unless this answers a HEAD request,
// the body. Content-Length always describes the full body.
func (r response) writeTo(w io.Writer) (int64, error) {
	var head strings.Builder
	fmt.Fprintf(&head, "HTTP/1.1 %d %s\r\n", r.status, http.StatusText(r.status))
	fmt.Fprintf(&head, "Content-Type: %s\r\n", r.contentType)
	fmt.Fprintf(&head, "Content-Length: %d\r\n", len(r.body))
	head.WriteString("Connection: close\r\n\r\n")

	n, err := io.WriteString(w, head.String())
	if err != nil || r.headOnly {
		return int64(n), err
	}
	m, err := w.Write(r.body)
	return int64(n + m), err
}

// handle answers one raw request head.
func (s *Server) handle(raw []byte) response {
	if !utf8.Valid(raw) {
		return simple(http.StatusBadRequest, "Invalid request encoding.")
	}
	line, _, _ := strings.Cut(string(raw), "\n")
	line = strings.TrimSpace(line)
	if line == "" {
		return simple(http.StatusBadRequest, "Missing request line.")
	}
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return simple(http.StatusBadRequest, "Malformed request line.")
	}
	method, target := parts[0], normalizeTarget(parts[1])

	if method != http.MethodGet && method != http.MethodHead {
		return simple(http.StatusMethodNotAllowed, "Only GET/HEAD supported.")
	}

	rawPath, _, _ := strings.Cut(target, "?")
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		decoded = rawPath
	}
	rel, ok := sanitizeRelativePath(decoded)
	if !ok {
		return simple(http.StatusBadRequest, "Invalid path.")
	}

	resp := s.serveFile(rel)
	resp.headOnly = method == http.MethodHead
	return resp
}

func (s *Server) serveFile(rel string) response {
	root, err := filepath.Abs(s.root)
	if err != nil {
		return simple(http.StatusInternalServerError, "Server error: "+err.Error())
	}

	full := filepath.Join(root, filepath.FromSlash(rel))
	if info, err := os.Stat(full); err == nil && info.IsDir() {
		full = filepath.Join(full, indexFile)
	} else if err != nil && path.Ext(rel) == "" {
		full = filepath.Join(full, indexFile)
	}
	if !isWithinRoot(full, root) {
		return simple(http.StatusForbidden, "Forbidden.")
	}

	// Symlinks inside the bundle must not lead out of it.
	if realRoot, err := filepath.EvalSymlinks(root); err == nil {
		if realFull, err := filepath.EvalSymlinks(full); err == nil && !isWithinRoot(realFull, realRoot) {
			return simple(http.StatusForbidden, "Forbidden.")
		}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return simple(http.StatusNotFound, "Not found.")
	}
	return response{status: http.StatusOK, contentType: mimeType(filepath.Ext(full)), body: data}
}

// normalizeTarget reduces an absolute-form request target to its path and query.
func normalizeTarget(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" {
		return target
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return p
}

// sanitizeRelativePath maps a decoded request path to a path relative to the
// served root. Any "." or ".." segment rejects the request.
func sanitizeRelativePath(raw string) (string, bool) {
	p := strings.TrimPrefix(raw, "/")
	if p == "" {
		return indexFile, true
	}
	if strings.HasSuffix(p, "/") {
		p += indexFile
	}
	var segments []string
	for _, segment := range strings.Split(p, "/") {
		switch segment {
		case "":
			continue
		case ".", "..":
			return "", false
		}
		segments = append(segments, segment)
	}
	return strings.Join(segments, "/"), true
}

func isWithinRoot(p, root string) bool {
	cleanPath := filepath.Clean(p)
	cleanRoot := filepath.Clean(root)
	if cleanPath == cleanRoot {
		return true
	}
	return strings.HasPrefix(cleanPath, cleanRoot+string(filepath.Separator))
}

func mimeType(ext string) string {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "html":
		return "text/html; charset=utf-8"
	case "js":
		return "application/javascript; charset=utf-8"
	case "css":
		return "text/css; charset=utf-8"
	case "json", "map":
		return "application/json; charset=utf-8"
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	case "svg":
		return "image/svg+xml"
	case "ico":
		return "image/x-icon"
	case "woff2":
		return "font/woff2"
	case "ttf":
		return "font/ttf"
	default:
		return "application/octet-stream"
	}
}
