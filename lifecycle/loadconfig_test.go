package lifecycle

import (
	"net/url"
	"testing"
)

func TestResolvedURLForcesHostAndGesture(t *testing.T) {
	tests := []struct {
		name string
		cfg  LoadConfiguration
		want string
	}{
		{
			name: "no query",
			cfg:  LoadConfiguration{GameURL: "http://127.0.0.1:54873/index.html", GestureMode: "web"},
			want: "http://127.0.0.1:54873/index.html?host=ios&gesture=web",
		},
		{
			name: "existing values are replaced",
			cfg:  LoadConfiguration{GameURL: "http://127.0.0.1:3000/?gesture=native&debug=1&host=android&host=x", GestureMode: "web"},
			want: "http://127.0.0.1:3000/?debug=1&host=ios&gesture=web",
		},
		{
			name: "other parameters keep their order and encoding",
			cfg:  LoadConfiguration{GameURL: "http://localhost/play?b=2&a=%20x&c", GestureMode: "native"},
			want: "http://localhost/play?b=2&a=%20x&c&host=ios&gesture=native",
		},
		{
			name: "fragment survives",
			cfg:  LoadConfiguration{GameURL: "http://localhost/#city", GestureMode: "web"},
			want: "http://localhost/?host=ios&gesture=web#city",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ResolvedURL(); got != tt.want {
				t.Fatalf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResolvedURLIsIdempotent(t *testing.T) {
	cfg := LoadConfiguration{GameURL: "http://127.0.0.1:54873/index.html?seed=7", GestureMode: "web"}
	first := cfg.ResolvedURL()
	if second := cfg.ResolvedURL(); second != first {
		t.Fatalf("resolving twice differs: %s vs %s", first, second)
	}

	again := LoadConfiguration{GameURL: first, GestureMode: "web"}.ResolvedURL()
	if again != first {
		t.Fatalf("re-resolving a resolved URL accumulated parameters: %s", again)
	}
}

func TestResolvedURLGestureChangeOnlyTouchesGesture(t *testing.T) {
	web := LoadConfiguration{GameURL: "http://127.0.0.1:54873/index.html?seed=7", GestureMode: "web"}
	native := web
	native.GestureMode = "native"

	a, err := url.Parse(web.ResolvedURL())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	b, err := url.Parse(native.ResolvedURL())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.Path != b.Path || a.Host != b.Host {
		t.Fatalf("path or host changed: %s vs %s", a, b)
	}
	qa, qb := a.Query(), b.Query()
	if qa.Get("seed") != qb.Get("seed") || qa.Get("host") != qb.Get("host") {
		t.Fatalf("unexpected query change: %v vs %v", qa, qb)
	}
	if qa.Get("gesture") != "web" || qb.Get("gesture") != "native" {
		t.Fatalf("gesture not updated: %v vs %v", qa, qb)
	}
}

func TestNewLoadIdentityIsFresh(t *testing.T) {
	a, b := NewLoadIdentity(), NewLoadIdentity()
	if a == "" || a == b {
		t.Fatalf("expected two distinct identities, got %q and %q", a, b)
	}
}
