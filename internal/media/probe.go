package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
)

// ErrNoVideoStream is wrapped by ProbeError when a source has no usable video stream.
var ErrNoVideoStream = errors.New("no video stream")

// Dimensions are the pixel dimensions of a video stream.
type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// AspectRatio returns width/height.
func (d Dimensions) AspectRatio() float64 {
	return float64(d.Width) / float64(d.Height)
}

// Prober inspects a source file.
type Prober interface {
	Probe(ctx context.Context, path string) (Dimensions, error)
}

// ProbeError reports a source that could not be read or has no video stream.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// FFprobe implements Prober by running the ffprobe binary.
type FFprobe struct {
	bin string
}

// NewFFprobe returns a prober that runs bin ("ffprobe" when empty).
func NewFFprobe(bin string) *FFprobe {
	if bin == "" {
		bin = "ffprobe"
	}
	return &FFprobe{bin: bin}
}

// Probe runs ffprobe and returns the dimensions of the first video stream.
func (p *FFprobe) Probe(ctx context.Context, path string) (Dimensions, error) {
	// #nosec G204 - binary comes from configuration; path is passed as a single argument
	cmd := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-print_format", "json",
		"-show_streams",
		path,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return Dimensions{}, &ProbeError{Path: path, Err: fmt.Errorf("ffprobe: %w (stderr: %s)", err, truncate(stderr.String(), 4096))}
	}

	dims, err := parseProbeOutput(out)
	if err != nil {
		return Dimensions{}, &ProbeError{Path: path, Err: err}
	}
	return dims, nil
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
}

type probeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	CodecName string `json:"codec_name"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

func parseProbeOutput(data []byte) (Dimensions, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Dimensions{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	for _, s := range out.Streams {
		if s.CodecType == "video" && s.Width > 0 && s.Height > 0 {
			return Dimensions{Width: s.Width, Height: s.Height}, nil
		}
	}
	return Dimensions{}, ErrNoVideoStream
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
