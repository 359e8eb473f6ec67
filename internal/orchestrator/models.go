package orchestrator

import "time"

// AssetID uniquely identifies one uploaded source and its HLS output tree.
type AssetID string

// AssetStatus is the lifecycle state of a SourceAsset.
type AssetStatus string

const (
	StatusProbing   AssetStatus = "probing"
	StatusPlanning  AssetStatus = "planning"
	StatusEncoding  AssetStatus = "encoding"
	StatusSucceeded AssetStatus = "succeeded"
	StatusFailed    AssetStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s AssetStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// SourceAsset is the orchestrator's view of one uploaded video.
type SourceAsset struct {
	ID          AssetID     `json:"id"`
	Path        string      `json:"-"`
	Width       int         `json:"width,omitempty"`
	Height      int         `json:"height,omitempty"`
	AspectRatio float64     `json:"aspect_ratio,omitempty"`
	Status      AssetStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	Renditions  []string    `json:"renditions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RenditionSpec describes one rung of the ladder. Bitrates use ffmpeg notation.
type RenditionSpec struct {
	Name         string
	Width        int
	Height       int
	VideoBitrate string
	AudioBitrate string
	// Bandwidth is advertised in the master playlist, in bits per second.
	Bandwidth int
}

// DefaultLadder is the rendition catalog offered for every source, lowest first.
var DefaultLadder = []RenditionSpec{
	{Name: "360p", Width: 640, Height: 360, VideoBitrate: "800k", AudioBitrate: "96k", Bandwidth: 800_000},
	{Name: "480p", Width: 854, Height: 480, VideoBitrate: "1400k", AudioBitrate: "128k", Bandwidth: 1_400_000},
	{Name: "720p", Width: 1280, Height: 720, VideoBitrate: "2800k", AudioBitrate: "128k", Bandwidth: 2_800_000},
	{Name: "1080p", Width: 1920, Height: 1080, VideoBitrate: "5000k", AudioBitrate: "192k", Bandwidth: 5_000_000},
}

// RenditionPlan is the scale+pad geometry of one rendition.
type RenditionPlan struct {
	ScaledWidth  int
	ScaledHeight int
	PadWidth     int
	PadHeight    int
}

// StreamEntry is one variant line of the master playlist.
type StreamEntry struct {
	Name       string
	Bandwidth  int
	Resolution string
	Codecs     string
	URI        string
}

// DefaultCodecs matches the H.264 baseline 3.0 + AAC-LC encode settings.
const DefaultCodecs = "avc1.42e01e,mp4a.40.2"
