package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"hls-packager/internal/media"
	"hls-packager/internal/platform/metrics"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Options configures a Service.
type Options struct {
	// OutputRoot is the directory under which each asset gets its own tree.
	OutputRoot string
	// PublicPrefix is the URL path the output root is served under (e.g. "/hls").
	PublicPrefix string
	// PublicBaseURL, when set, is baked into rendition playlists as an absolute
	// segment base ("<PublicBaseURL>/<asset>/<rendition>/").
	PublicBaseURL string

	Ladder          []RenditionSpec
	Concurrency     int
	SegmentDuration int
	Encrypt         bool
}

// Source is what the upload collaborator hands the pipeline.
type Source struct {
	// ID is optional; a random id is assigned when empty.
	ID   AssetID
	Path string
}

// Result describes a successfully packaged asset.
type Result struct {
	AssetID    AssetID  `json:"asset_id"`
	Playlist   string   `json:"playlist"`
	Renditions []string `json:"resolutions"`
}

// Service runs the probe → plan → encode → publish pipeline for one asset at a time
// per call; concurrent calls operate on disjoint asset trees.
type Service struct {
	repo    Repository
	prober  media.Prober
	encoder media.Encoder
	cleanup *Cleanup
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewService wires a Service. Metrics may be nil to disable metric recording
// (e.g. in tests). A zero Concurrency means one worker per ladder entry.
func NewService(repo Repository, prober media.Prober, enc media.Encoder, opts Options, log *slog.Logger, m *metrics.Metrics) *Service {
	if len(opts.Ladder) == 0 {
		opts.Ladder = DefaultLadder
	}
	if opts.Concurrency <= 0 || opts.Concurrency > len(opts.Ladder) {
		opts.Concurrency = len(opts.Ladder)
	}
	if opts.SegmentDuration <= 0 {
		opts.SegmentDuration = DefaultSegmentDuration
	}
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = "/hls"
	}
	return &Service{
		repo:    repo,
		prober:  prober,
		encoder: enc,
		cleanup: NewCleanup(opts.OutputRoot),
		opts:    opts,
		log:     log,
		metrics: m,
	}
}

// Asset returns the tracked state of an asset.
func (s *Service) Asset(id AssetID) (SourceAsset, bool) {
	return s.repo.Get(id)
}

// ActiveCount returns the number of assets still being processed.
func (s *Service) ActiveCount() int {
	return s.repo.ActiveCount()
}

// Process packages src into an HLS tree. On success the source file is
// deleted; on any failure the partial tree is removed and the source kept.
func (s *Service) Process(ctx context.Context, src Source) (*Result, error) {
	if src.ID == "" {
		src.ID = AssetID(uuid.NewString())
	}
	asset := SourceAsset{ID: src.ID, Path: src.Path, Status: StatusProbing}
	if err := s.repo.Create(asset); err != nil {
		return nil, err
	}
	log := s.log.With(slog.String("asset_id", string(asset.ID)))

	dims, err := s.prober.Probe(ctx, src.Path)
	if err != nil && ctx.Err() != nil {
		// The caller went away; the source itself may be fine.
		err = fmt.Errorf("inspect source canceled: %w", context.Cause(ctx))
		log.Info("asset canceled before planning", slog.String("error", err.Error()))
		s.finish(asset.ID, err)
		return nil, err
	}
	if err != nil {
		var pe *media.ProbeError
		if !errors.As(err, &pe) {
			err = &media.ProbeError{Path: src.Path, Err: err}
		}
		log.Warn("probe failed", slog.String("error", err.Error()))
		s.finish(asset.ID, err)
		return nil, err
	}
	asset.Width, asset.Height = dims.Width, dims.Height
	asset.AspectRatio = dims.AspectRatio()
	if err := s.repo.RecordDimensions(asset.ID, dims.Width, dims.Height); err != nil {
		return nil, err
	}
	if err := s.repo.Transition(asset.ID, StatusPlanning, nil); err != nil {
		return nil, err
	}

	outDir := s.cleanup.OutputDir(asset.ID)
	jobs := s.planJobs(asset, outDir)
	log.Info("asset planned",
		slog.Int("width", dims.Width),
		slog.Int("height", dims.Height),
		slog.Int("renditions", len(jobs)),
		slog.Int("concurrency", s.opts.Concurrency))

	if err := s.repo.Transition(asset.ID, StatusEncoding, nil); err != nil {
		return nil, err
	}

	entries, err := s.encode(ctx, log, outDir, jobs)
	if err == nil {
		err = WriteMasterPlaylist(filepath.Join(outDir, MasterPlaylistName), entries)
	}
	if err != nil {
		if rbErr := s.cleanup.Rollback(asset); rbErr != nil {
			log.Error("rollback failed", slog.String("error", rbErr.Error()))
			err = errors.Join(err, rbErr)
		}
		log.Error("transcode failed, output rolled back", slog.String("error", err.Error()))
		s.finish(asset.ID, err)
		return nil, err
	}

	if err := s.cleanup.Commit(asset); err != nil {
		log.Error("source cleanup failed", slog.String("path", asset.Path), slog.String("error", err.Error()))
	}

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	s.finish(asset.ID, nil, names...)
	log.Info("transcode succeeded", slog.Any("renditions", names))

	return &Result{
		AssetID:    asset.ID,
		Playlist:   path.Join(s.opts.PublicPrefix, string(asset.ID), MasterPlaylistName),
		Renditions: names,
	}, nil
}

func (s *Service) planJobs(asset SourceAsset, outDir string) []*Job {
	jobs := make([]*Job, len(s.opts.Ladder))
	for i, spec := range s.opts.Ladder {
		cfg := JobConfig{
			Input:           asset.Path,
			SegmentDuration: s.opts.SegmentDuration,
			Encrypt:         s.opts.Encrypt,
		}
		if s.opts.PublicBaseURL != "" {
			cfg.BaseURL = fmt.Sprintf("%s/%s/%s/", s.opts.PublicBaseURL, asset.ID, spec.Name)
		}
		plan := Plan(asset.AspectRatio, spec.Width, spec.Height)
		jobs[i] = NewJob(spec, plan, filepath.Join(outDir, spec.Name), cfg)
	}
	return jobs
}

// encode runs every job through a bounded pool and waits for all of them to
// reach a terminal state. The first failure cancels the jobs still running or
// queued; entries are returned in ladder order.
func (s *Service) encode(ctx context.Context, log *slog.Logger, outDir string, jobs []*Job) ([]StreamEntry, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make([]StreamEntry, len(jobs))
	var (
		mu       sync.Mutex
		firstErr error
	)

	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			start := time.Now()
			entry, err := job.Run(jobCtx, s.encoder)
			s.observeRendition(job.Spec.Name, err, time.Since(start))

			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				mu.Unlock()
				log.Error("rendition failed", slog.String("rendition", job.Spec.Name), slog.String("error", err.Error()))
				return nil
			}

			entries[i] = entry
			log.Debug("rendition encoded", slog.String("rendition", job.Spec.Name), slog.Duration("took", time.Since(start)))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("transcode canceled: %w", err)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return entries, nil
}

func (s *Service) finish(id AssetID, cause error, renditions ...string) {
	to, outcome := StatusSucceeded, metrics.OutcomeSucceeded
	if cause != nil {
		to, outcome = StatusFailed, metrics.OutcomeFailed
		if errors.Is(cause, context.Canceled) {
			outcome = metrics.OutcomeCanceled
		}
	}
	if err := s.repo.Transition(id, to, cause, renditions...); err != nil {
		s.log.Error("record asset status", slog.String("asset_id", string(id)), slog.String("error", err.Error()))
	}
	if s.metrics != nil {
		s.metrics.ObserveRun(outcome)
	}
}

func (s *Service) observeRendition(name string, err error, d time.Duration) {
	if s.metrics == nil {
		return
	}
	outcome := metrics.OutcomeSucceeded
	if err != nil {
		outcome = metrics.OutcomeFailed
	}
	s.metrics.ObserveRendition(name, outcome, d)
}
