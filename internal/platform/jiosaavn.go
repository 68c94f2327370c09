package platform

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
	"github.com/MelodifyLabs/melody-call-service/pkg/httpclient"
)

var (
	saavnSongPattern = regexp.MustCompile(
		`^(?:https?://)?(?:www\.)?jiosaavn\.com/song/[\w-]+/[a-zA-Z0-9_-]+`)
	saavnPlaylistPattern = regexp.MustCompile(
		`^(?:https?://)?(?:www\.)?jiosaavn\.com/featured/[\w-]+/[a-zA-Z0-9_-]+$`)
)

const saavnSearchEndpoint = "https://www.jiosaavn.com/api.php?" +
	"__call=autocomplete.get&query=%s&_format=json&_marker=0&ctx=wap6dot0"

const saavnExtractTimeout = 60 * time.Second

// JioSaavn resolves tracks via the site's autocomplete API and a yt-dlp
// metadata extraction, then downloads straight from the CDN.
type JioSaavn struct {
	downloadsDir string
	http         *httpclient.Client
}

func NewJioSaavn(downloadsDir string, http *httpclient.Client) *JioSaavn {
	return &JioSaavn{downloadsDir: downloadsDir, http: http}
}

func (j *JioSaavn) Name() domain.Platform { return domain.PlatformJioSaavn }

// Matches implements Adapter.
func (j *JioSaavn) Matches(query string) bool {
	q := strings.TrimSpace(query)
	return saavnSongPattern.MatchString(q) || saavnPlaylistPattern.MatchString(q)
}

// Search implements Adapter, using the public autocomplete endpoint.
func (j *JioSaavn) Search(ctx context.Context, query string) (*domain.PlatformTracks, error) {
	if j.Matches(query) {
		return j.Resolve(ctx, query)
	}

	var resp struct {
		Songs struct {
			Data []struct {
				ID    string `json:"id"`
				Title string `json:"title"`
				Image string `json:"image"`
				URL   string `json:"url"`
			} `json:"data"`
		} `json:"songs"`
	}
	endpoint := fmt.Sprintf(saavnSearchEndpoint, url.QueryEscape(query))
	if err := j.http.GetJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("jiosaavn search %q: %w", query, err)
	}
	if len(resp.Songs.Data) == 0 {
		return nil, fmt.Errorf("%w: no results for %q", domain.ErrTrackNotFound, query)
	}

	var tracks []domain.TrackDescriptor
	for _, song := range resp.Songs.Data {
		if song.URL == "" {
			continue
		}
		tracks = append(tracks, domain.TrackDescriptor{
			Platform: domain.PlatformJioSaavn,
			ID:       song.ID,
			URL:      song.URL,
			Name:     song.Title,
			CoverURL: song.Image,
		})
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: no results for %q", domain.ErrTrackNotFound, query)
	}
	return &domain.PlatformTracks{Tracks: tracks}, nil
}

// Resolve implements Adapter.
func (j *JioSaavn) Resolve(ctx context.Context, rawURL string) (*domain.PlatformTracks, error) {
	rawURL = strings.TrimSpace(rawURL)
	if saavnSongPattern.MatchString(rawURL) {
		track, err := j.extractTrack(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		return &domain.PlatformTracks{Tracks: []domain.TrackDescriptor{track.TrackDescriptor}}, nil
	}
	if saavnPlaylistPattern.MatchString(rawURL) {
		return j.extractPlaylist(ctx, rawURL)
	}
	return nil, fmt.Errorf("%w: invalid JioSaavn URL %q", domain.ErrTrackNotFound, rawURL)
}

// Track implements Adapter. Accepts a full song URL or a "title/id" pair as
// produced by search results.
func (j *JioSaavn) Track(ctx context.Context, id string) (*domain.ResolvedTrack, error) {
	trackURL := id
	if !j.Matches(id) {
		trackURL = formatSaavnURL(id)
	}
	if trackURL == "" {
		return nil, fmt.Errorf("%w: invalid JioSaavn track %q", domain.ErrTrackNotFound, id)
	}
	return j.extractTrack(ctx, trackURL)
}

func (j *JioSaavn) extractTrack(ctx context.Context, trackURL string) (*domain.ResolvedTrack, error) {
	ctx, cancel := context.WithTimeout(ctx, saavnExtractTimeout)
	defer cancel()

	res, err := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		Format("bestaudio/best").
		Print("%(display_id)s\t%(title)s\t%(duration)s\t%(thumbnail)s\t%(webpage_url)s\t%(urls)s").
		Run(ctx, "--skip-download", trackURL)
	if err != nil {
		return nil, fmt.Errorf("%w: jiosaavn extraction for %s: %v", domain.ErrExtractionFailed, trackURL, err)
	}

	parts := strings.Split(strings.TrimSpace(res.Stdout), "\t")
	if len(parts) < 6 {
		return nil, fmt.Errorf("%w: no data for %s", domain.ErrTrackNotFound, trackURL)
	}
	cdnURLs := strings.Fields(parts[5])
	if len(cdnURLs) == 0 {
		return nil, fmt.Errorf("%w: no stream URL for %s", domain.ErrTrackNotFound, trackURL)
	}
	return &domain.ResolvedTrack{
		TrackDescriptor: domain.TrackDescriptor{
			Platform: domain.PlatformJioSaavn,
			ID:       parts[0],
			URL:      parts[4],
			Name:     parts[1],
			Duration: parseDurationSeconds(parts[2]),
			CoverURL: parts[3],
		},
		CDNURL: cdnURLs[0],
	}, nil
}

func (j *JioSaavn) extractPlaylist(ctx context.Context, playlistURL string) (*domain.PlatformTracks, error) {
	ctx, cancel := context.WithTimeout(ctx, saavnExtractTimeout)
	defer cancel()

	res, err := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(duration)s").
		Run(ctx, playlistURL)
	if err != nil {
		return nil, fmt.Errorf("%w: jiosaavn playlist for %s: %v", domain.ErrExtractionFailed, playlistURL, err)
	}

	var tracks []domain.TrackDescriptor
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 || parts[0] == "" {
			continue
		}
		tracks = append(tracks, domain.TrackDescriptor{
			Platform: domain.PlatformJioSaavn,
			ID:       path.Base(parts[0]),
			URL:      parts[0],
			Name:     parts[1],
			Duration: parseDurationSeconds(parts[2]),
		})
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("%w: empty playlist %s", domain.ErrTrackNotFound, playlistURL)
	}
	return &domain.PlatformTracks{Tracks: tracks}, nil
}

// Download implements Adapter. JioSaavn serves files straight off the CDN;
// video is not supported by the platform.
func (j *JioSaavn) Download(ctx context.Context, track *domain.ResolvedTrack, _ bool) (string, error) {
	if track.CDNURL == "" {
		return "", fmt.Errorf("%w: no CDN URL for track %s", domain.ErrDownloadFailed, track.ID)
	}
	name := track.ID
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	dest := filepath.Join(j.downloadsDir, name+".m4a")
	path, err := j.http.DownloadFile(ctx, track.CDNURL, dest, false)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}
	return path, nil
}

// formatSaavnURL rebuilds a song URL from a "title/id" display id.
func formatSaavnURL(nameAndID string) string {
	i := strings.LastIndexByte(nameAndID, '/')
	if i <= 0 {
		return ""
	}
	title, songID := nameAndID[:i], nameAndID[i+1:]
	title = strings.ToLower(title)
	title = regexp.MustCompile(`[()"',]`).ReplaceAllString(title, "")
	title = regexp.MustCompile(`\s+`).ReplaceAllString(strings.TrimSpace(title), "-")
	return fmt.Sprintf("https://www.jiosaavn.com/song/%s/%s", title, songID)
}
