package backend

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/metafates/gache"
)

type UpdateChecker struct {
	OnUpdatedVersionFound func()

	mu               sync.Mutex
	versionTagFound  string
	latestReleaseURL string
	lastCheckedTag   *string

	client *retryablehttp.Client
	cache  *gache.Cache[string] // may be nil
}

// NewUpdateChecker creates an update checker. If cache is non-nil, the
// latest tag is only requested from the server when the cached one expired.
func NewUpdateChecker(latestReleaseURL string, lastCheckedTag *string, cache *gache.Cache[string]) *UpdateChecker {
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.Logger = nil
	return &UpdateChecker{
		latestReleaseURL: latestReleaseURL,
		lastCheckedTag:   lastCheckedTag,
		client:           client,
		cache:            cache,
	}
}

func (u *UpdateChecker) Start(ctx context.Context, interval time.Duration) {
	go func() {
		u.checkForUpdate(ctx) // check once at startup
		t := time.NewTicker(interval)
		for {
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
				u.checkForUpdate(ctx)
			}
		}
	}()
}

func (u *UpdateChecker) VersionTagFound() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.versionTagFound
}

func (u *UpdateChecker) LatestReleaseURL() *url.URL {
	url, _ := url.Parse(u.latestReleaseURL)
	return url
}

func (u *UpdateChecker) checkForUpdate(ctx context.Context) {
	t := u.CheckLatestVersionTag(ctx)
	u.mu.Lock()
	found := t != "" && t != *u.lastCheckedTag && t != u.versionTagFound
	if found {
		u.versionTagFound = t
	}
	u.mu.Unlock()
	if found && u.OnUpdatedVersionFound != nil {
		u.OnUpdatedVersionFound()
	}
}

// CheckLatestVersionTag follows the latest release redirect and
// returns the release tag it resolves to, or "" on failure.
func (u *UpdateChecker) CheckLatestVersionTag(ctx context.Context) string {
	if u.cache != nil {
		if tag, expired, err := u.cache.Get(); err == nil && !expired && tag != "" {
			return tag
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead, u.latestReleaseURL, nil)
	if err != nil {
		log.Printf("failed to check for newest version: %s", err.Error())
		return ""
	}
	resp, err := u.client.Do(req)
	if err != nil {
		log.Printf("failed to check for newest version: %s", err.Error())
		return ""
	}
	resp.Body.Close()

	tag := tagFromReleaseURL(resp.Request.URL.String())
	if tag != "" && u.cache != nil {
		_ = u.cache.Set(tag)
	}
	return tag
}

func tagFromReleaseURL(url string) string {
	url = strings.TrimSuffix(url, "/")
	idx := strings.LastIndex(url, "/")
	if idx < 0 || idx >= len(url)-1 {
		return ""
	}
	return url[idx+1:]
}
