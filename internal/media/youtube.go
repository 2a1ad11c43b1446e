package media

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultAPIURL is the Data API v3 videos endpoint.
const DefaultAPIURL = "https://www.googleapis.com/youtube/v3/videos"

// YouTube resolves video metadata through the Data API. Concurrent lookups of
// one id share a single request.
type YouTube struct {
	apiURL string
	apiKey string
	client *http.Client
	group  singleflight.Group
}

// NewYouTube builds a resolver. An empty apiURL selects DefaultAPIURL.
func NewYouTube(apiURL, apiKey string, timeout time.Duration) *YouTube {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YouTube{
		apiURL: apiURL,
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
	}
}

type videoList struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Thumbnails  map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

// Resolve implements Resolver.
func (y *YouTube) Resolve(ctx context.Context, id string) (*Info, error) {
	v, err, _ := y.group.Do(id, func() (any, error) {
		return y.fetch(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	info := *v.(*Info)
	return &info, nil
}

func (y *YouTube) fetch(ctx context.Context, id string) (*Info, error) {
	q := url.Values{}
	q.Set("part", "snippet,contentDetails")
	q.Set("id", id)
	if y.apiKey != "" {
		q.Set("key", y.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("lookup %s: unexpected status %d", id, resp.StatusCode)
	}

	var list videoList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode lookup %s: %w", id, err)
	}
	if len(list.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	item := list.Items[0]
	d, err := ParseISODuration(item.ContentDetails.Duration)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", id, err)
	}

	info := &Info{
		ID:          id,
		URL:         playURL + id,
		Title:       item.Snippet.Title,
		Description: item.Snippet.Description,
		Duration:    d,
	}
	for _, size := range []string{"default", "medium", "high"} {
		if t, ok := item.Snippet.Thumbnails[size]; ok {
			info.Thumbnail = t.URL
			break
		}
	}
	return info, nil
}
