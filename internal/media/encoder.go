package media

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// EncodeOptions is the declarative description of one HLS rendition encode.
type EncodeOptions struct {
	Input string
	// Playlist is the rendition playlist path; segments land next to it.
	Playlist       string
	SegmentPattern string

	VideoFilter  string
	Profile      string
	Level        string
	VideoBitrate string
	AudioBitrate string

	SegmentDuration     int
	StartNumber         int
	PlaylistType        string
	IndependentSegments bool

	// KeyInfoFile enables AES-128 segment encryption when set.
	KeyInfoFile string
	BaseURL     string
}

// Args renders the options as an ffmpeg argument vector.
func (o EncodeOptions) Args() []string {
	args := []string{
		"-nostats", "-hide_banner", "-loglevel", "error", "-y",
		"-i", o.Input,
	}
	if o.Profile != "" {
		args = append(args, "-profile:v", o.Profile)
	}
	if o.Level != "" {
		args = append(args, "-level", o.Level)
	}
	if o.VideoFilter != "" {
		args = append(args, "-vf", o.VideoFilter)
	}
	if o.VideoBitrate != "" {
		args = append(args, "-b:v", o.VideoBitrate)
	}
	if o.AudioBitrate != "" {
		args = append(args, "-b:a", o.AudioBitrate)
	}

	args = append(args,
		"-start_number", strconv.Itoa(o.StartNumber),
		"-hls_time", strconv.Itoa(o.SegmentDuration),
		"-hls_list_size", "0",
	)
	if o.PlaylistType != "" {
		args = append(args, "-hls_playlist_type", o.PlaylistType)
	}
	if o.IndependentSegments {
		args = append(args, "-hls_flags", "independent_segments")
	}
	if o.SegmentPattern != "" {
		args = append(args, "-hls_segment_filename", o.SegmentPattern)
	}
	if o.KeyInfoFile != "" {
		args = append(args, "-hls_key_info_file", o.KeyInfoFile)
	}
	if o.BaseURL != "" {
		args = append(args, "-hls_base_url", o.BaseURL)
	}

	return append(args, "-f", "hls", o.Playlist)
}

// Encoder runs one rendition encode to completion.
type Encoder interface {
	Encode(ctx context.Context, opts EncodeOptions) error
}

// FFmpeg implements Encoder by running the ffmpeg binary.
type FFmpeg struct {
	bin       string
	waitDelay time.Duration
}

// NewFFmpeg returns an encoder that runs bin ("ffmpeg" when empty).
func NewFFmpeg(bin string) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	return &FFmpeg{bin: bin, waitDelay: 5 * time.Second}
}

// Encode blocks until ffmpeg exits. Cancelling ctx kills ffmpeg's whole
// process group.
func (f *FFmpeg) Encode(ctx context.Context, opts EncodeOptions) error {
	// #nosec G204 - binary comes from configuration; arguments are built by EncodeOptions
	cmd := exec.CommandContext(ctx, f.bin, opts.Args()...)
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = f.waitDelay

	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		return fmt.Errorf("ffmpeg: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
