package platform

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/pkg/httpclient"
	"github.com/MelodifyLabs/melody-call-service/pkg/logger"
)

var (
	youtubeVideoPattern = regexp.MustCompile(
		`^(?:https?://)?(?:www\.)?(?:youtube\.com|music\.youtube\.com|youtu\.be)/` +
			`(?:watch\?v=|embed/|v/|shorts/)?([\w-]{11})(?:\?|&|$)`)
	youtubePlaylistPattern = regexp.MustCompile(
		`^(?:https?://)?(?:www\.)?(?:youtube\.com|music\.youtube\.com)/` +
			`(?:playlist|watch)\?.*\blist=([\w-]+)`)
	youtubeShortsPattern = regexp.MustCompile(
		`^(?:https?://)?(?:www\.)?youtube\.com/shorts/([\w-]+)`)
	telegramFileLinkPattern = regexp.MustCompile(`^https://t\.me/([a-zA-Z0-9_]{5,})/(\d+)$`)
)

const (
	ytSearchLimit     = 5
	ytExtractTimeout  = 10 * time.Minute
	ytPlaylistTimeout = 60 * time.Second
)

// YouTubeConfig carries the knobs the adapter needs from the environment.
type YouTubeConfig struct {
	DownloadsDir string
	CookiesDir   string
	ProxyURL     string
	APIBaseURL   string // secondary hosted API, tried before yt-dlp
	APIKey       string
}

// MessageLinkResolver downloads a media attachment referenced by a t.me
// message link. The secondary API sometimes answers with one instead of a
// direct CDN URL.
type MessageLinkResolver interface {
	DownloadByLink(ctx context.Context, link, destDir string) (string, error)
}

// YouTube resolves and downloads YouTube tracks: oEmbed metadata for URLs,
// keyword search without API keys, and a hosted-API-first download strategy
// falling back to a yt-dlp subprocess.
type YouTube struct {
	cfg      YouTubeConfig
	http     *httpclient.Client
	search   *ytsearch.Client
	resolver MessageLinkResolver
}

func NewYouTube(cfg YouTubeConfig, http *httpclient.Client, resolver MessageLinkResolver) *YouTube {
	return &YouTube{
		cfg:      cfg,
		http:     http,
		search:   ytsearch.NewClient(nil),
		resolver: resolver,
	}
}

func (y *YouTube) Name() domain.Platform { return domain.PlatformYouTube }

// Matches implements Adapter.
func (y *YouTube) Matches(query string) bool {
	q := cleanYouTubeQuery(query)
	return youtubeVideoPattern.MatchString(q) ||
		youtubePlaylistPattern.MatchString(q) ||
		youtubeShortsPattern.MatchString(q)
}

// cleanYouTubeQuery drops extra URL parameters but keeps the v= parameter.
func cleanYouTubeQuery(query string) string {
	q := strings.TrimSpace(query)
	if i := strings.IndexByte(q, '&'); i >= 0 {
		q = q[:i]
	}
	if i := strings.IndexByte(q, '#'); i >= 0 {
		q = q[:i]
	}
	return q
}

func videoID(q string) string {
	for _, p := range []*regexp.Regexp{youtubeVideoPattern, youtubeShortsPattern} {
		if m := p.FindStringSubmatch(q); m != nil {
			return m[1]
		}
	}
	return ""
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

// Resolve implements Adapter. Single videos go through the oEmbed endpoint;
// playlists are enumerated with a flat yt-dlp extraction.
func (y *YouTube) Resolve(ctx context.Context, rawURL string) (*domain.PlatformTracks, error) {
	q := cleanYouTubeQuery(rawURL)
	if youtubePlaylistPattern.MatchString(strings.TrimSpace(rawURL)) {
		return y.resolvePlaylist(ctx, strings.TrimSpace(rawURL))
	}

	id := videoID(q)
	if id == "" {
		return nil, fmt.Errorf("%w: invalid YouTube URL %q", domain.ErrTrackNotFound, rawURL)
	}

	track, err := y.oembed(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.PlatformTracks{Tracks: []domain.TrackDescriptor{*track}}, nil
}

func (y *YouTube) oembed(ctx context.Context, id string) (*domain.TrackDescriptor, error) {
	oembedURL := fmt.Sprintf("https://www.youtube.com/oembed?url=%s&format=json",
		url.QueryEscape(watchURL(id)))
	var data struct {
		Title        string `json:"title"`
		AuthorName   string `json:"author_name"`
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := y.http.GetJSON(ctx, oembedURL, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTrackNotFound, err)
	}
	return &domain.TrackDescriptor{
		Platform: domain.PlatformYouTube,
		ID:       id,
		URL:      watchURL(id),
		Name:     data.Title,
		Artist:   data.AuthorName,
		CoverURL: data.ThumbnailURL,
	}, nil
}

func (y *YouTube) resolvePlaylist(ctx context.Context, playlistURL string) (*domain.PlatformTracks, error) {
	ctx, cancel := context.WithTimeout(ctx, ytPlaylistTimeout)
	defer cancel()

	res, err := ytdlp.New().
		Quiet().
		NoWarnings().
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(uploader)s\t%(duration)s").
		Run(ctx, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("%w: playlist extraction: %v", domain.ErrExtractionFailed, err)
	}

	var tracks []domain.TrackDescriptor
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 || parts[0] == "" {
			continue
		}
		tracks = append(tracks, domain.TrackDescriptor{
			Platform: domain.PlatformYouTube,
			ID:       parts[0],
			URL:      watchURL(parts[0]),
			Name:     parts[1],
			Artist:   parts[2],
			Duration: parseDurationSeconds(parts[3]),
		})
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: empty playlist %s", domain.ErrTrackNotFound, playlistURL)
	}
	return &domain.PlatformTracks{Tracks: tracks}, nil
}

func parseDurationSeconds(s string) int {
	d, err := time.ParseDuration(strings.TrimSpace(s) + "s")
	if err != nil {
		return 0
	}
	return int(d.Seconds())
}

// Search implements Adapter.
func (y *YouTube) Search(ctx context.Context, query string) (*domain.PlatformTracks, error) {
	if y.Matches(query) {
		return y.Resolve(ctx, query)
	}

	res, err := y.search.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("youtube search %q: %w", query, err)
	}

	var tracks []domain.TrackDescriptor
	for _, v := range res.Results {
		if v.VideoID == "" {
			continue
		}
		tracks = append(tracks, domain.TrackDescriptor{
			Platform: domain.PlatformYouTube,
			ID:       v.VideoID,
			URL:      watchURL(v.VideoID),
			Name:     v.Title,
		})
		if len(tracks) == ytSearchLimit {
			break
		}
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no results for %q", domain.ErrTrackNotFound, query)
	}
	return &domain.PlatformTracks{Tracks: tracks}, nil
}

// Track implements Adapter.
func (y *YouTube) Track(ctx context.Context, id string) (*domain.ResolvedTrack, error) {
	if strings.HasPrefix(id, "http") {
		id = videoID(cleanYouTubeQuery(id))
	}
	if id == "" {
		return nil, fmt.Errorf("%w: no track identifier", domain.ErrTrackNotFound)
	}
	desc, err := y.oembed(ctx, id)
	if err != nil {
		return nil, err
	}
	return &domain.ResolvedTrack{TrackDescriptor: *desc, Album: "YouTube"}, nil
}

// Download implements Adapter. The hosted API is tried first for audio (it
// is cheaper and faster than extraction); yt-dlp is the fallback.
func (y *YouTube) Download(ctx context.Context, track *domain.ResolvedTrack, video bool) (string, error) {
	if y.cfg.APIBaseURL != "" && y.cfg.APIKey != "" {
		if path, err := y.downloadWithAPI(ctx, track.ID, video); err == nil {
			return path, nil
		} else {
			logger.L().Warnw("api download failed, falling back to yt-dlp",
				"video_id", track.ID, "error", err)
		}
	}
	return y.downloadWithYtdlp(ctx, track.ID, video)
}

func (y *YouTube) downloadWithAPI(ctx context.Context, id string, video bool) (string, error) {
	reqURL := fmt.Sprintf("%s/yt?id=%s&video=%t", y.cfg.APIBaseURL, url.QueryEscape(id), video)
	var resp struct {
		Results string `json:"results"`
	}
	if err := y.http.GetJSON(ctx, reqURL, &resp); err != nil {
		return "", err
	}
	if resp.Results == "" {
		return "", fmt.Errorf("%w: empty API response for %s", domain.ErrDownloadFailed, id)
	}

	// The API answers with either a direct CDN URL or a t.me message link.
	if telegramFileLinkPattern.MatchString(resp.Results) {
		if y.resolver == nil {
			return "", fmt.Errorf("%w: no resolver for message link", domain.ErrDownloadFailed)
		}
		return y.resolver.DownloadByLink(ctx, resp.Results, y.cfg.DownloadsDir)
	}
	return y.http.DownloadFile(ctx, resp.Results, "", false)
}

func (y *YouTube) downloadWithYtdlp(ctx context.Context, id string, video bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ytExtractTimeout)
	defer cancel()

	format := "bestaudio[ext=m4a]/bestaudio[ext=mp4]/bestaudio[ext=webm]/bestaudio/best"
	if video {
		format = "bestvideo[ext=mp4][height<=1080]+bestaudio[ext=m4a]/best[ext=mp4][height<=1080]"
	}

	cmd := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		GeoBypass().
		Retries("2").
		NoPart().
		Output(filepath.Join(y.cfg.DownloadsDir, "%(id)s.%(ext)s")).
		Format(format).
		Print("after_move:filepath")

	if video {
		cmd = cmd.MergeOutputFormat("mp4")
	}

	if y.cfg.ProxyURL != "" {
		cmd = cmd.Proxy(y.cfg.ProxyURL)
	} else if cookie := y.cookieFile(); cookie != "" {
		cmd = cmd.Cookies(cookie)
	}

	res, err := cmd.Run(ctx, watchURL(id))
	if err != nil {
		return "", fmt.Errorf("%w: yt-dlp for %s: %v", domain.ErrExtractionFailed, id, err)
	}

	path := strings.TrimSpace(res.Stdout)
	if path == "" {
		return "", fmt.Errorf("%w: yt-dlp returned no output path for %s", domain.ErrExtractionFailed, id)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		return "", fmt.Errorf("%w: yt-dlp reported missing file %s", domain.ErrExtractionFailed, path)
	}
	logger.L().Infow("downloaded track", "video_id", id, "path", path)
	return path, nil
}

// cookieFile picks a random cookie jar so one account is not hammered.
func (y *YouTube) cookieFile() string {
	entries, err := os.ReadDir(y.cfg.CookiesDir)
	if err != nil {
		return ""
	}
	var cookies []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			cookies = append(cookies, filepath.Join(y.cfg.CookiesDir, e.Name()))
		}
	}
	if len(cookies) == 0 {
		return ""
	}
	return cookies[rand.Intn(len(cookies))]
}
