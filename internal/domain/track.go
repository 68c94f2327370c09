package domain

// Platform identifies the music platform a track came from.
type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformJioSaavn   Platform = "jiosaavn"
	PlatformSpotify    Platform = "spotify"
	PlatformAppleMusic Platform = "apple_music"
	PlatformSoundCloud Platform = "soundcloud"
	PlatformTelegram   Platform = "telegram"
)

// TrackDescriptor is the immutable metadata a platform adapter returns for a
// single track before it has been resolved for download.
type TrackDescriptor struct {
	Platform Platform
	ID       string
	URL      string
	Name     string
	Artist   string
	Duration int // seconds, 0 when unknown
	CoverURL string
	Year     int
}

// PlatformTracks is a search/resolve result: one or more track descriptors
// from a single platform.
type PlatformTracks struct {
	Tracks []TrackDescriptor
}

// ResolvedTrack carries everything needed to actually download one track.
// CDNURL and Key are only populated by platforms that serve files directly;
// extractor-backed platforms leave them empty and download by URL.
type ResolvedTrack struct {
	TrackDescriptor
	CDNURL string
	Key    string // hex decryption key for encrypted streams, empty otherwise
	Album  string
	Lyrics string
}

// Requester identifies the user whose command enqueued a track.
type Requester struct {
	UserID int64
	Name   string
}

// QueuedTrack is one entry in a chat's playback queue. Loop and FilePath are
// mutated in place while the entry sits at the head of the queue.
type QueuedTrack struct {
	TrackDescriptor
	Requester Requester
	Loop      int // repeats remaining for this queue position
	FilePath  string
	IsVideo   bool
}
