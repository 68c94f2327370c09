package platform

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
)

type stubAdapter struct {
	name   domain.Platform
	prefix string
}

func (s *stubAdapter) Name() domain.Platform       { return s.name }
func (s *stubAdapter) Matches(query string) bool   { return strings.HasPrefix(query, s.prefix) }
func (s *stubAdapter) Resolve(context.Context, string) (*domain.PlatformTracks, error) {
	return nil, nil
}
func (s *stubAdapter) Search(context.Context, string) (*domain.PlatformTracks, error) {
	return nil, nil
}
func (s *stubAdapter) Track(context.Context, string) (*domain.ResolvedTrack, error) {
	return nil, nil
}
func (s *stubAdapter) Download(context.Context, *domain.ResolvedTrack, bool) (string, error) {
	return "", nil
}

func TestRegistryDispatch(t *testing.T) {
	yt := &stubAdapter{name: domain.PlatformYouTube, prefix: "https://youtube.com"}
	saavn := &stubAdapter{name: domain.PlatformJioSaavn, prefix: "https://jiosaavn.com"}
	r := NewRegistry("jiosaavn", yt, saavn)

	assert.Same(t, yt, r.For("https://youtube.com/watch?v=abc"))
	assert.Same(t, saavn, r.For("https://jiosaavn.com/song/x/y"))
	assert.Same(t, saavn, r.For("some free text query"), "free text goes to the default adapter")

	assert.True(t, r.IsURL("https://youtube.com/watch?v=abc"))
	assert.False(t, r.IsURL("some free text query"))
}

func TestRegistryUnknownDefault(t *testing.T) {
	yt := &stubAdapter{name: domain.PlatformYouTube, prefix: "https://youtube.com"}
	saavn := &stubAdapter{name: domain.PlatformJioSaavn, prefix: "https://jiosaavn.com"}
	r := NewRegistry("does-not-exist", yt, saavn)
	assert.Same(t, yt, r.For("free text"), "unknown default falls back to the first adapter")
}

func TestYouTubeMatching(t *testing.T) {
	for _, url := range []string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ",
		"https://music.youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ",
		"https://www.youtube.com/playlist?list=PLx0sYbCqOb8TBPRdmBHs5Iftvv9TPboYG",
		"youtube.com/watch?v=dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42s",
	} {
		assert.True(t, (&YouTube{}).Matches(url), url)
	}
	for _, q := range []string{
		"never gonna give you up",
		"https://www.jiosaavn.com/song/a/b",
		"https://example.com/watch?v=dQw4w9WgXcQ",
	} {
		assert.False(t, (&YouTube{}).Matches(q), q)
	}
}

func TestYouTubeVideoID(t *testing.T) {
	assert.Equal(t, "dQw4w9WgXcQ", videoID(cleanYouTubeQuery("https://youtu.be/dQw4w9WgXcQ?si=xyz")))
	assert.Equal(t, "dQw4w9WgXcQ", videoID("https://www.youtube.com/shorts/dQw4w9WgXcQ"))
	assert.Equal(t, "", videoID("not a url"))
}

func TestJioSaavnMatching(t *testing.T) {
	j := &JioSaavn{}
	assert.True(t, j.Matches("https://www.jiosaavn.com/song/tum-hi-ho/OgwZCRFGWGA"))
	assert.True(t, j.Matches("https://www.jiosaavn.com/featured/romantic-hits/abc123"))
	assert.False(t, j.Matches("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.False(t, j.Matches("tum hi ho"))
}

func TestFormatSaavnURL(t *testing.T) {
	assert.Equal(t,
		"https://www.jiosaavn.com/song/tum-hi-ho/OgwZCRFGWGA",
		formatSaavnURL("Tum Hi Ho/OgwZCRFGWGA"))
	assert.Equal(t,
		"https://www.jiosaavn.com/song/dont-stop-believin/xyz",
		formatSaavnURL("Don't Stop Believin'/xyz"))
	assert.Equal(t, "", formatSaavnURL("no-separator"))
}

func TestHostedAPIMatching(t *testing.T) {
	a := &HostedAPI{baseURL: "https://api.example.com"}
	for _, url := range []string{
		"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
		"https://open.spotify.com/playlist/37i9dQZF1DXcBWIGoYBM5M",
		"https://music.apple.com/us/album/song-name/1440857781",
		"https://soundcloud.com/artist/track-name",
		"https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=abc123",
	} {
		assert.True(t, a.Matches(url), url)
	}
	for _, q := range []string{
		"shape of you",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	} {
		assert.False(t, a.Matches(q), q)
	}

	disabled := &HostedAPI{}
	assert.False(t, disabled.Matches("https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC"),
		"unconfigured API matches nothing")
}

func TestParseMessageLink(t *testing.T) {
	chatRef, msgID, err := parseMessageLink("https://t.me/somechannel/42")
	require.NoError(t, err)
	assert.Equal(t, "@somechannel", chatRef)
	assert.Equal(t, int64(42), msgID)

	chatRef, msgID, err = parseMessageLink("https://t.me/c/1234567890/99")
	require.NoError(t, err)
	assert.Equal(t, "-1001234567890", chatRef)
	assert.Equal(t, int64(99), msgID)

	_, _, err = parseMessageLink("https://t.me/joinchat/abc")
	assert.Error(t, err)
}
