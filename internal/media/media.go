// Package media finds playable links in chat text and resolves their metadata.
package media

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/sosodev/duration"
)

var (
	// ErrNoLink means the text holds no recognizable video link.
	ErrNoLink = errors.New("media: no youtube link")
	// ErrNotFound means the lookup service knows no such video.
	ErrNotFound = errors.New("media: video not found")
)

const playURL = "https://www.youtube.com/watch?v="

// Link is a video reference found in a message.
type Link struct {
	ID  string
	URL string
}

// Info is resolved video metadata. ID is the stable content identity.
type Info struct {
	ID          string        `json:"id"`
	URL         string        `json:"url"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	Thumbnail   string        `json:"thumbnail,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// PlayURL is the canonical watch URL.
func (i Info) PlayURL() string {
	if i.ID == "" {
		return i.URL
	}
	return playURL + i.ID
}

// Display renders the title for chat.
func (i Info) Display() string {
	return `"` + i.Title + `"`
}

// Same reports whether both refer to the same video.
func (i Info) Same(other Info) bool {
	return i.ID != "" && i.ID == other.ID
}

// Resolver looks up metadata for a video id.
type Resolver interface {
	Resolve(ctx context.Context, id string) (*Info, error)
}

// ExtractLink returns the first youtube.com/watch?v= or youtu.be/ link in text.
func ExtractLink(text string) (Link, error) {
	for _, field := range strings.Fields(text) {
		lower := strings.ToLower(field)
		if !strings.Contains(lower, "youtube") && !strings.Contains(lower, "youtu.be") {
			continue
		}
		raw := strings.Trim(field, "<>()[]\"'")
		if !strings.HasPrefix(strings.ToLower(raw), "http") {
			raw = "https://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		var id string
		switch {
		case host == "youtu.be":
			id = strings.Trim(u.Path, "/")
		case strings.HasSuffix(host, "youtube.com") && u.Path == "/watch":
			id = u.Query().Get("v")
		}
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		return Link{ID: id, URL: raw}, nil
	}
	return Link{}, ErrNoLink
}

// ParseISODuration parses the ISO-8601 durations returned by the Data API,
// e.g. "PT1H2M3S" or "P1DT5M".
func ParseISODuration(s string) (time.Duration, error) {
	if len(s) < 3 || s[0] != 'P' || !unicode.IsLetter(rune(s[len(s)-1])) {
		return 0, fmt.Errorf("duration %q: not an ISO-8601 duration", s)
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	return d.ToTimeDuration(), nil
}

// FormatDuration renders d as H:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// Static resolves from a fixed table. Useful offline and in tests.
type Static map[string]Info

func (s Static) Resolve(_ context.Context, id string) (*Info, error) {
	info, ok := s[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if info.ID == "" {
		info.ID = id
	}
	return &info, nil
}
