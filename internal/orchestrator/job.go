package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hls-packager/internal/media"
)

const (
	// RenditionPlaylistName is the playlist each job writes inside its directory.
	RenditionPlaylistName = "index.m3u8"
	segmentPattern        = "segment%d.ts"

	// DefaultSegmentDuration is the target HLS segment length in seconds.
	DefaultSegmentDuration = 5
)

// JobState is the lifecycle of a single rendition encode.
type JobState int

const (
	JobPending JobState = iota
	JobRunning
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobRunning:
		return "running"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return fmt.Sprintf("JobState(%d)", int(s))
	}
}

// JobConfig holds the per-run settings shared by every job of an asset.
type JobConfig struct {
	Input           string
	SegmentDuration int
	Encrypt         bool
	// BaseURL, when set, prefixes segment and key URIs in the rendition playlist.
	BaseURL string
}

// Job encodes one rendition of a source into its own directory.
type Job struct {
	Spec      RenditionSpec
	Plan      RenditionPlan
	OutputDir string

	cfg JobConfig

	mu    sync.Mutex
	state JobState
	err   error
	keys  *EncryptionKeys
}

// NewJob returns a pending job. outputDir is created when the job runs.
func NewJob(spec RenditionSpec, plan RenditionPlan, outputDir string, cfg JobConfig) *Job {
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = DefaultSegmentDuration
	}
	return &Job{Spec: spec, Plan: plan, OutputDir: outputDir, cfg: cfg}
}

// State returns the job's current state.
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err returns the failure cause once the job is JobFailed.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Keys returns the encryption material written by the job, if any.
func (j *Job) Keys() *EncryptionKeys {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.keys
}

// Options builds the encoder option set for this job.
func (j *Job) Options() media.EncodeOptions {
	opts := media.EncodeOptions{
		Input:               j.cfg.Input,
		Playlist:            filepath.Join(j.OutputDir, RenditionPlaylistName),
		SegmentPattern:      filepath.Join(j.OutputDir, segmentPattern),
		VideoFilter:         j.Plan.VideoFilter(j.Spec.Width, j.Spec.Height),
		Profile:             "baseline",
		Level:               "3.0",
		VideoBitrate:        j.Spec.VideoBitrate,
		AudioBitrate:        j.Spec.AudioBitrate,
		SegmentDuration:     j.cfg.SegmentDuration,
		StartNumber:         0,
		PlaylistType:        "vod",
		IndependentSegments: true,
		BaseURL:             j.cfg.BaseURL,
	}
	if j.cfg.Encrypt {
		opts.KeyInfoFile = filepath.Join(j.OutputDir, keyInfoFileName)
	}
	return opts
}

// Entry is the master playlist line this job produces on success.
func (j *Job) Entry() StreamEntry {
	return StreamEntry{
		Name:       j.Spec.Name,
		Bandwidth:  j.Spec.Bandwidth,
		Resolution: fmt.Sprintf("%dx%d", j.Spec.Width, j.Spec.Height),
		Codecs:     DefaultCodecs,
		URI:        j.Spec.Name + "/" + RenditionPlaylistName,
	}
}

// Run drives the encode to a terminal state. Every failure, including a
// context that is already done, is returned as *EncodeError.
func (j *Job) Run(ctx context.Context, enc media.Encoder) (StreamEntry, error) {
	j.setState(JobRunning, nil)

	if err := ctx.Err(); err != nil {
		return StreamEntry{}, j.fail(err)
	}
	if err := os.MkdirAll(j.OutputDir, 0o755); err != nil {
		return StreamEntry{}, j.fail(fmt.Errorf("create rendition dir: %w", err))
	}

	if j.cfg.Encrypt {
		keys, err := writeEncryptionKeys(j.OutputDir, j.cfg.BaseURL+keyFileName)
		if err != nil {
			return StreamEntry{}, j.fail(err)
		}
		j.mu.Lock()
		j.keys = keys
		j.mu.Unlock()
	}

	if err := enc.Encode(ctx, j.Options()); err != nil {
		return StreamEntry{}, j.fail(err)
	}

	j.setState(JobSucceeded, nil)
	return j.Entry(), nil
}

func (j *Job) fail(err error) error {
	ee := &EncodeError{Rendition: j.Spec.Name, Err: err}
	j.setState(JobFailed, ee)
	return ee
}

func (j *Job) setState(s JobState, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.state = s
	j.err = err
}
