package webserver

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slighter12/isocity-host-go/lifecycle"
)

func newBundle(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "web.bundle")
	files := map[string]string{
		"index.html":            "<html>home</html>",
		"app.js":                "console.log(1)",
		"style.CSS":             "body{}",
		"tiles/atlas.webp":      "webp",
		"city/index.html":       "<html>city</html>",
		"fonts/game.woff2":      "font",
		"data/blob.bin":         "binary",
		"maps/app.js.map":       "{}",
		"coaster/index.html":    "<html>coaster</html>",
		"coaster/ride.json":     "{\"ok\":true}",
		"assets/logo.svg":       "<svg/>",
		"assets/favicon.ico":    "ico",
		"assets/photo.jpeg":     "jpeg",
		"assets/photo.png":      "png",
		"assets/type.ttf":       "ttf",
		"assets/space name.txt": "spaced",
	}
	for name, body := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte(body), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	return root
}

func startServer(t *testing.T, root string) *Server {
	t.Helper()
	server := New("127.0.0.1", 0, root)
	server.StartIfNeeded()
	if got := server.Status(); got.Phase != lifecycle.ServerRunning {
		t.Fatalf("expected running server, got %s", got)
	}
	t.Cleanup(server.Stop)
	return server
}

func rawRequest(t *testing.T, server *Server, request string) (*http.Response, string) {
	t.Helper()
	addr := strings.TrimPrefix(server.BaseURL(), "http://")
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(conn, request); err != nil {
		t.Fatalf("write: %v", err)
	}
	method := http.MethodGet
	if strings.HasPrefix(request, "HEAD ") {
		method = http.MethodHead
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: method})
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, string(body)
}

func get(t *testing.T, server *Server, target string) (*http.Response, string) {
	t.Helper()
	return rawRequest(t, server, "GET "+target+" HTTP/1.1\r\nHost: localhost\r\n\r\n")
}

func TestServeFiles(t *testing.T) {
	server := startServer(t, newBundle(t))

	tests := []struct {
		target      string
		status      int
		contentType string
		body        string
	}{
		{"/", 200, "text/html; charset=utf-8", "<html>home</html>"},
		{"/index.html?host=ios&gesture=web", 200, "text/html; charset=utf-8", "<html>home</html>"},
		{"/app.js", 200, "application/javascript; charset=utf-8", "console.log(1)"},
		{"/style.CSS", 200, "text/css; charset=utf-8", "body{}"},
		{"/tiles/atlas.webp", 200, "image/webp", "webp"},
		{"/city/", 200, "text/html; charset=utf-8", "<html>city</html>"},
		{"/city", 200, "text/html; charset=utf-8", "<html>city</html>"},
		{"/coaster", 200, "text/html; charset=utf-8", "<html>coaster</html>"},
		{"/coaster/ride.json", 200, "application/json; charset=utf-8", "{\"ok\":true}"},
		{"/fonts/game.woff2", 200, "font/woff2", "font"},
		{"/maps/app.js.map", 200, "application/json; charset=utf-8", "{}"},
		{"/assets/logo.svg", 200, "image/svg+xml", "<svg/>"},
		{"/assets/favicon.ico", 200, "image/x-icon", "ico"},
		{"/assets/photo.jpeg", 200, "image/jpeg", "jpeg"},
		{"/assets/photo.png", 200, "image/png", "png"},
		{"/assets/type.ttf", 200, "font/ttf", "ttf"},
		{"/assets/space%20name.txt", 200, "application/octet-stream", "spaced"},
		{"/data/blob.bin", 200, "application/octet-stream", "binary"},
		{"/missing.js", 404, "text/plain; charset=utf-8", "Not found."},
		{"/missing/route", 404, "text/plain; charset=utf-8", "Not found."},
		{"http://127.0.0.1/app.js?x=1", 200, "application/javascript; charset=utf-8", "console.log(1)"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			resp, body := get(t, server, tt.target)
			if resp.StatusCode != tt.status {
				t.Fatalf("expected %d, got %d (%s)", tt.status, resp.StatusCode, body)
			}
			if got := resp.Header.Get("Content-Type"); got != tt.contentType {
				t.Errorf("expected content type %q, got %q", tt.contentType, got)
			}
			if got := resp.Header.Get("Content-Length"); got != strconv.Itoa(len(tt.body)) {
				t.Errorf("expected content length %d, got %s", len(tt.body), got)
			}
			if !resp.Close {
				t.Error("expected Connection: close")
			}
			if body != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, body)
			}
		})
	}
}

func TestRejectsTraversal(t *testing.T) {
	server := startServer(t, newBundle(t))

	for _, target := range []string{
		"/../../etc/passwd",
		"/%2e%2e/%2e%2e/etc/passwd",
		"/city/../../secret",
		"/./index.html",
		"/..%2fsecret",
	} {
		t.Run(target, func(t *testing.T) {
			resp, body := get(t, server, target)
			if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusForbidden {
				t.Fatalf("expected 400 or 403, got %d (%s)", resp.StatusCode, body)
			}
			if strings.Contains(body, "root:") {
				t.Fatal("traversal leaked file contents")
			}
		})
	}
}

func TestSymlinkOutsideRootIsForbidden(t *testing.T) {
	root := newBundle(t)
	outside := filepath.Join(t.TempDir(), "secret.txt")
	if err := os.WriteFile(outside, []byte("secret"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.Symlink(outside, filepath.Join(root, "leak.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	server := startServer(t, root)

	resp, body := get(t, server, "/leak.txt")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (%s)", resp.StatusCode, body)
	}
}

func TestMethodAndRequestLineErrors(t *testing.T) {
	server := startServer(t, newBundle(t))

	tests := []struct {
		name    string
		request string
		status  int
		body    string
	}{
		{"post", "POST /index.html HTTP/1.1\r\n\r\n", 405, "Only GET/HEAD supported."},
		{"delete", "DELETE / HTTP/1.1\r\n\r\n", 405, "Only GET/HEAD supported."},
		{"missing line", "\r\n\r\n", 400, "Missing request line."},
		{"malformed line", "GET\r\n\r\n", 400, "Malformed request line."},
		{"bad encoding", "GET /\xff\xfe HTTP/1.1\r\n\r\n", 400, "Invalid request encoding."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := rawRequest(t, server, tt.request)
			if resp.StatusCode != tt.status || body != tt.body {
				t.Fatalf("expected %d %q, got %d %q", tt.status, tt.body, resp.StatusCode, body)
			}
		})
	}
}

func TestHeadSendsHeadersOnly(t *testing.T) {
	server := startServer(t, newBundle(t))
	addr := strings.TrimPrefix(server.BaseURL(), "http://")

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	io.WriteString(conn, "HEAD /app.js HTTP/1.1\r\nHost: localhost\r\n\r\n")

	raw, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	head, rest, found := strings.Cut(string(raw), "\r\n\r\n")
	if !found {
		t.Fatalf("missing header terminator in %q", raw)
	}
	if !strings.HasPrefix(head, "HTTP/1.1 200 OK") || !strings.Contains(head, "Content-Length: 14") {
		t.Fatalf("unexpected head %q", head)
	}
	if rest != "" {
		t.Fatalf("HEAD must not send a body, got %q", rest)
	}
}

func TestOversizedHeaderIsRejected(t *testing.T) {
	server := startServer(t, newBundle(t))

	prefix := "GET / HTTP/1.1\r\nX-Padding: "
	request := prefix + strings.Repeat("a", maxRequestBytes+1-len(prefix))
	resp, _ := rawRequest(t, server, request)
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
}

func TestHalfClosedRequestStillAnswered(t *testing.T) {
	server := startServer(t, newBundle(t))
	addr, err := net.ResolveTCPAddr("tcp", strings.TrimPrefix(server.BaseURL(), "http://"))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	conn, err := net.DialTCP("tcp", nil, addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	io.WriteString(conn, "GET /app.js HTTP/1.1\r\n")
	conn.CloseWrite()

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestStopClosesIdleConnections(t *testing.T) {
	server := New("127.0.0.1", 0, newBundle(t))
	server.StartIfNeeded()
	if got := server.Status(); got.Phase != lifecycle.ServerRunning {
		t.Fatalf("expected running server, got %s", got)
	}

	conn, err := net.Dial("tcp", strings.TrimPrefix(server.BaseURL(), "http://"))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	// Let the accept loop pick the connection up before stopping.
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		server.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on a silent client")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected the idle connection to be closed")
	}
	if got := server.Status().Phase; got != lifecycle.ServerStopped {
		t.Fatalf("expected stopped server, got %s", got)
	}
}

func TestPortConflictFailsThenRetries(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := blocker.Addr().(*net.TCPAddr).Port

	var mu sync.Mutex
	var seen []lifecycle.ServerPhase
	server := New("127.0.0.1", port, newBundle(t))
	server.OnStatus(func(status lifecycle.ServerStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, status.Phase)
	})
	t.Cleanup(server.Stop)

	server.StartIfNeeded()
	status := server.Status()
	if status.Phase != lifecycle.ServerFailed || status.Message == "" {
		t.Fatalf("expected failed status with message, got %+v", status)
	}

	blocker.Close()
	server.StartIfNeeded()
	if got := server.Status().Phase; got != lifecycle.ServerRunning {
		t.Fatalf("expected running after retry, got %s", got)
	}
	if got := server.BaseURL(); got != "http://127.0.0.1:"+strconv.Itoa(port) {
		t.Fatalf("unexpected base url %s", got)
	}

	server.StartIfNeeded()
	server.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []lifecycle.ServerPhase{
		lifecycle.ServerStarting, lifecycle.ServerFailed,
		lifecycle.ServerStarting, lifecycle.ServerRunning,
		lifecycle.ServerStopped,
	}
	if len(seen) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, seen)
		}
	}
}

func TestSanitizeRelativePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/", "index.html", true},
		{"", "index.html", true},
		{"/a/b.js", "a/b.js", true},
		{"/a//b.js", "a/b.js", true},
		{"/docs/", "docs/index.html", true},
		{"/a/./b", "", false},
		{"/../x", "", false},
	}
	for _, tt := range tests {
		got, ok := sanitizeRelativePath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("sanitizeRelativePath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
