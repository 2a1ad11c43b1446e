package media

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestExtractLink(t *testing.T) {
	tests := []struct {
		name string
		text string
		id   string
		err  error
	}{
		{name: "watch url", text: "!queue https://www.youtube.com/watch?v=dQw4w9WgXcQ", id: "dQw4w9WgXcQ"},
		{name: "no scheme", text: "!queue youtube.com/watch?v=abc123&t=10", id: "abc123"},
		{name: "short link", text: "!queue http://youtu.be/xyz789", id: "xyz789"},
		{name: "play event", text: "\"Song\" (from bob)\n!play https://www.youtube.com/watch?v=p1\nNext: Nothing", id: "p1"},
		{name: "channel page", text: "!queue https://www.youtube.com/channel/UC123", err: ErrNoLink},
		{name: "nothing", text: "!queue please", err: ErrNoLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			link, err := ExtractLink(tt.text)
			if tt.err != nil {
				if !errors.Is(err, tt.err) {
					t.Fatalf("expected %v, got %v", tt.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("extract: %v", err)
			}
			if link.ID != tt.id {
				t.Fatalf("id = %q, want %q", link.ID, tt.id)
			}
		})
	}
}

func TestParseISODuration(t *testing.T) {
	tests := map[string]time.Duration{
		"PT3M20S":  3*time.Minute + 20*time.Second,
		"PT1H2M3S": time.Hour + 2*time.Minute + 3*time.Second,
		"PT45S":    45 * time.Second,
		"P1DT1M":   24*time.Hour + time.Minute,
		"PT0S":     0,
		"P1W":      7 * 24 * time.Hour,
	}
	for in, want := range tests {
		got, err := ParseISODuration(in)
		if err != nil {
			t.Fatalf("%s: %v", in, err)
		}
		if got != want {
			t.Fatalf("%s = %v, want %v", in, got, want)
		}
	}
	for _, bad := range []string{"", "3M", "PTS", "PT5", "PT5X"} {
		if _, err := ParseISODuration(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := FormatDuration(25 * time.Second); got != "0:00:25" {
		t.Fatalf("got %q", got)
	}
	if got := FormatDuration(time.Hour + 2*time.Minute + 3*time.Second); got != "1:02:03" {
		t.Fatalf("got %q", got)
	}
}

func TestYouTubeResolve(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
		if r.URL.Query().Get("key") != "secret" {
			http.Error(w, "no key", http.StatusForbidden)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "missing" {
			fmt.Fprint(w, `{"items":[]}`)
			return
		}
		fmt.Fprintf(w, `{"items":[{"id":%q,"snippet":{"title":"Song %s","description":"d",
			"thumbnails":{"default":{"url":"http://img/%s.jpg"}}},"contentDetails":{"duration":"PT3M"}}]}`, id, id, id)
	}))
	defer srv.Close()

	yt := NewYouTube(srv.URL, "secret", time.Second)

	var wg sync.WaitGroup
	results := make([]*Info, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := yt.Resolve(context.Background(), "abc")
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			results[i] = info
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := calls.Load(); n != 1 {
		t.Fatalf("concurrent lookups should share one request, got %d", n)
	}
	for _, info := range results {
		if info == nil || info.Title != "Song abc" || info.Duration != 3*time.Minute || info.Thumbnail != "http://img/abc.jpg" {
			t.Fatalf("unexpected info %+v", info)
		}
	}
	if results[0].PlayURL() != "https://www.youtube.com/watch?v=abc" || results[0].Display() != `"Song abc"` {
		t.Fatalf("unexpected rendering %q %q", results[0].PlayURL(), results[0].Display())
	}

	if _, err := yt.Resolve(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
