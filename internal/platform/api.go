package platform

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/pkg/httpclient"
	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

// Hosted-API URL ownership patterns.
var apiURLPatterns = map[domain.Platform]*regexp.Regexp{
	domain.PlatformAppleMusic: regexp.MustCompile(
		`^(?i)(https?://)?([a-z0-9-]+\.)*music\.apple\.com/([a-z]{2}/)?` +
			`(album|playlist|song)/[a-zA-Z0-9\-._]+/(pl\.[a-zA-Z0-9]+|\d+)$`),
	domain.PlatformSpotify: regexp.MustCompile(
		`^(?i)(https?://)?([a-z0-9-]+\.)*spotify\.com/` +
			`(track|playlist|album|artist)/[a-zA-Z0-9]+$`),
	domain.PlatformSoundCloud: regexp.MustCompile(
		`^(?i)(https?://)?([a-z0-9-]+\.)*soundcloud\.com/` +
			`[a-zA-Z0-9_-]+(/(sets)?/?[a-zA-Z0-9_-]+)?$`),
}

type apiTrack struct {
	URL      string `json:"url"`
	CDNURL   string `json:"cdnurl"`
	Key      string `json:"key"`
	Name     string `json:"name"`
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	TC       string `json:"tc"`
	Cover    string `json:"cover"`
	Lyrics   string `json:"lyrics"`
	Duration int    `json:"duration"`
	Year     int    `json:"year"`
	Platform string `json:"platform"`
}

type apiTracksResponse struct {
	Results []struct {
		URL      string `json:"url"`
		Name     string `json:"name"`
		Artist   string `json:"artist"`
		ID       string `json:"id"`
		Year     int    `json:"year"`
		Cover    string `json:"cover"`
		Duration int    `json:"duration"`
		Platform string `json:"platform"`
	} `json:"results"`
}

// HostedAPI serves Spotify, Apple Music and SoundCloud links through a
// hosted resolver service. Spotify tracks arrive as encrypted streams and
// run through the decrypt/repair/remux pipeline; everything else downloads
// straight from the returned CDN URL.
type HostedAPI struct {
	baseURL      string
	downloadsDir string
	http         *httpclient.Client
	pipeline     *encryptedPipeline
}

func NewHostedAPI(baseURL, downloadsDir string, http *httpclient.Client) *HostedAPI {
	return &HostedAPI{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		downloadsDir: downloadsDir,
		http:         http,
		pipeline:     &encryptedPipeline{http: http, downloadsDir: downloadsDir},
	}
}

func (a *HostedAPI) Name() domain.Platform { return domain.PlatformSpotify }

// Enabled reports whether the resolver service is configured.
func (a *HostedAPI) Enabled() bool { return a.baseURL != "" }

// sanitizeQuery drops URL fragments and query parameters.
func sanitizeQuery(query string) string {
	q := strings.TrimSpace(query)
	if i := strings.IndexByte(q, '?'); i >= 0 {
		q = q[:i]
	}
	if i := strings.IndexByte(q, '#'); i >= 0 {
		q = q[:i]
	}
	return q
}

// Matches implements Adapter.
func (a *HostedAPI) Matches(query string) bool {
	if !a.Enabled() {
		return false
	}
	q := sanitizeQuery(query)
	for _, pattern := range apiURLPatterns {
		if pattern.MatchString(q) {
			return true
		}
	}
	return false
}

func (a *HostedAPI) request(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	reqURL := fmt.Sprintf("%s/%s?%s", a.baseURL, endpoint, params.Encode())
	return a.http.GetJSON(ctx, reqURL, out)
}

func (a *HostedAPI) parseTracks(resp *apiTracksResponse) (*domain.PlatformTracks, error) {
	var tracks []domain.TrackDescriptor
	for _, t := range resp.Results {
		if t.ID == "" {
			continue
		}
		tracks = append(tracks, domain.TrackDescriptor{
			Platform: domain.Platform(t.Platform),
			ID:       t.ID,
			URL:      t.URL,
			Name:     t.Name,
			Artist:   t.Artist,
			Duration: t.Duration,
			CoverURL: t.Cover,
			Year:     t.Year,
		})
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no tracks in API response", domain.ErrTrackNotFound)
	}
	return &domain.PlatformTracks{Tracks: tracks}, nil
}

// Resolve implements Adapter.
func (a *HostedAPI) Resolve(ctx context.Context, rawURL string) (*domain.PlatformTracks, error) {
	if !a.Matches(rawURL) {
		return nil, fmt.Errorf("%w: unsupported URL %q", domain.ErrTrackNotFound, rawURL)
	}
	var resp apiTracksResponse
	if err := a.request(ctx, "get_url", url.Values{"url": {sanitizeQuery(rawURL)}}, &resp); err != nil {
		return nil, err
	}
	return a.parseTracks(&resp)
}

// Search implements Adapter.
func (a *HostedAPI) Search(ctx context.Context, query string) (*domain.PlatformTracks, error) {
	if a.Matches(query) {
		return a.Resolve(ctx, query)
	}
	var resp apiTracksResponse
	if err := a.request(ctx, "search", url.Values{"query": {query}}, &resp); err != nil {
		return nil, err
	}
	return a.parseTracks(&resp)
}

// Track implements Adapter.
func (a *HostedAPI) Track(ctx context.Context, id string) (*domain.ResolvedTrack, error) {
	var t apiTrack
	if err := a.request(ctx, "track", url.Values{"url": {id}}, &t); err != nil {
		return nil, err
	}
	if t.TC == "" {
		return nil, fmt.Errorf("%w: track %q", domain.ErrTrackNotFound, id)
	}
	return &domain.ResolvedTrack{
		TrackDescriptor: domain.TrackDescriptor{
			Platform: domain.Platform(t.Platform),
			ID:       t.TC,
			URL:      t.URL,
			Name:     t.Name,
			Artist:   t.Artist,
			Duration: t.Duration,
			CoverURL: t.Cover,
			Year:     t.Year,
		},
		CDNURL: t.CDNURL,
		Key:    t.Key,
		Album:  t.Album,
		Lyrics: t.Lyrics,
	}, nil
}

// Download implements Adapter.
func (a *HostedAPI) Download(ctx context.Context, track *domain.ResolvedTrack, _ bool) (string, error) {
	if track.Platform == domain.PlatformSpotify {
		return a.pipeline.process(ctx, track)
	}

	if track.CDNURL == "" {
		return "", fmt.Errorf("%w: no download URL for track %s", domain.ErrDownloadFailed, track.ID)
	}
	dest := filepath.Join(a.downloadsDir, track.ID+".mp3")
	path, err := a.http.DownloadFile(ctx, track.CDNURL, dest, false)
	if err != nil {
		logger.L().Warnw("cdn download failed", "track_id", track.ID, "error", err)
		return "", fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}
	return path, nil
}
