package format

import "strings"

// Format classifies a resolved stream URL into one of the transport formats
// the player knows how to play. The classification decides which engine gets
// attached: RawTSLive goes to the raw demux engine through the TS proxy,
// everything else goes to the buffer-source engine with a matching MIME type.
type Format int

const (
	GenericFile Format = iota // MP4 and anything unrecognized, played as a direct file
	HLS                       // HTTP Live Streaming playlists
	RawTSLive                 // Continuous raw MPEG-TS live streams
	Matroska                  // MKV container files
)

// Classify derives the transport format from a resolved URL using path and
// extension markers. Pure and total: any string input yields exactly one
// format.
//
// Precedence matters and is load-bearing: an HLS marker dominates a live
// path marker, and a VOD path marker vetoes live-TS detection even when a
// .ts extension is present. Reordering these checks breaks real portals.
func Classify(resolvedURL string) Format {
	url := strings.ToLower(resolvedURL)

	// HLS first: playlists frequently live under /live/ paths too
	if strings.Contains(url, ".m3u8") {
		return HLS
	}

	if strings.Contains(url, ".mkv") {
		return Matroska
	}

	// Live TS detection:
	// - a /live/ path segment indicates live streaming
	// - OR a .ts extension marker
	// - BUT NOT VOD content paths, which serve files over the same markers
	hasLivePath := strings.Contains(url, "/live/")
	hasTSMarker := strings.Contains(url, ".ts")
	isVODPath := strings.Contains(url, "/media/") || strings.Contains(url, "/vod/")
	if (hasLivePath || hasTSMarker) && !isVODPath {
		return RawTSLive
	}

	return GenericFile
}

// String returns the format name for logs and status reporting.
func (f Format) String() string {
	switch f {
	case HLS:
		return "hls"
	case RawTSLive:
		return "raw-ts-live"
	case Matroska:
		return "matroska"
	default:
		return "generic-file"
	}
}

// MIMEType returns the content type handed to the buffer-source engine for
// this format. RawTSLive streams are normally handled by the raw demux
// engine; the video/mp2t value here is what the fallback path uses when the
// proxied TS is replayed as a direct stream.
func (f Format) MIMEType() string {
	switch f {
	case HLS:
		return "application/x-mpegURL"
	case RawTSLive:
		return "video/mp2t"
	case Matroska:
		return "video/x-matroska"
	default:
		return "video/mp4"
	}
}
