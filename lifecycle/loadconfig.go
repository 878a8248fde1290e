package lifecycle

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// HostName is the value forced into the host query parameter.
const HostName = "ios"

// LoadConfiguration describes how the page is loaded. It is a value: two
// configurations are equal when they would load the same page.
type LoadConfiguration struct {
	GameURL     string `json:"gameUrl"`
	GestureMode string `json:"gestureMode"`
}

// ResolvedURL returns GameURL with any host and gesture parameters replaced by
// exactly one of each, appended after the remaining parameters in their
// original order. Resolving is idempotent. An unparsable GameURL is returned
// unchanged.
func (c LoadConfiguration) ResolvedURL() string {
	u, err := url.Parse(c.GameURL)
	if err != nil {
		return c.GameURL
	}

	var kept []string
	if u.RawQuery != "" {
		for _, pair := range strings.Split(u.RawQuery, "&") {
			if pair == "" {
				continue
			}
			key, _, _ := strings.Cut(pair, "=")
			if name, err := url.QueryUnescape(key); err == nil && (name == "host" || name == "gesture") {
				continue
			}
			kept = append(kept, pair)
		}
	}
	kept = append(kept, "host="+HostName, "gesture="+url.QueryEscape(c.GestureMode))
	u.RawQuery = strings.Join(kept, "&")
	u.ForceQuery = false
	return u.String()
}

// LoadIdentity keys one load attempt. A fresh identity forces a reload even
// when the resolved URL has not changed.
type LoadIdentity string

func NewLoadIdentity() LoadIdentity {
	return LoadIdentity(uuid.NewString())
}
