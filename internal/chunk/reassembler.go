package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"hls-packager/internal/platform/metrics"

	"github.com/google/renameio/v2"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds concurrent chunk copies when Options.Concurrency is unset.
const DefaultConcurrency = 4

const partialSuffix = ".partial"

// State is the lifecycle of one logical file name.
type State string

const (
	StateCollecting State = "collecting"
	StateMerging    State = "merging"
	StateMerged     State = "merged"
	StateFailed     State = "merge_error"
)

// Options configures a Reassembler.
type Options struct {
	// StagingRoot holds one "chunk-<base>" directory per logical name.
	StagingRoot string
	// MergeDir receives merged files.
	MergeDir    string
	Concurrency int
}

// Incoming is a chunk already stored on disk by the transport layer.
type Incoming struct {
	Path string
	Name string
}

// Chunk is one staged piece of a logical file.
type Chunk struct {
	Name   string `json:"name"`
	Index  int    `json:"index"`
	Path   string `json:"-"`
	Size   int64  `json:"size"`
	Offset int64  `json:"offset"`
}

// ChunkSet is the ordered content of a staging directory.
type ChunkSet struct {
	LogicalName string
	StagingDir  string
	Chunks      []Chunk
}

// Size is the sum of all chunk sizes.
func (s ChunkSet) Size() int64 {
	var n int64
	for _, c := range s.Chunks {
		n += c.Size
	}
	return n
}

// MergeResult describes a completed merge.
type MergeResult struct {
	Name   string  `json:"name"`
	Path   string  `json:"path"`
	Size   int64   `json:"size"`
	Chunks []Chunk `json:"chunks"`
}

type entry struct {
	// busy is read-locked by each Put and write-locked by Merge.
	busy    sync.RWMutex
	state   State
	updated time.Time
}

// Reassembler stages chunks and merges them. It is safe for concurrent use.
type Reassembler struct {
	opts    Options
	log     *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

// New returns a Reassembler. Metrics may be nil.
func New(opts Options, log *slog.Logger, m *metrics.Metrics) *Reassembler {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	return &Reassembler{
		opts:    opts,
		log:     log,
		metrics: m,
		entries: make(map[string]*entry),
	}
}

// StagingDir returns the staging directory for a logical name.
func (r *Reassembler) StagingDir(base string) string {
	return filepath.Join(r.opts.StagingRoot, stagingPrefix+base)
}

// Status returns the state of a logical name, if it has been seen.
func (r *Reassembler) Status(base string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[base]
	if !ok || e.state == "" {
		return "", false
	}
	return e.state, true
}

// Prune forgets merged and failed names whose state last changed before
// cutoff. Staged chunks on disk are left alone.
func (r *Reassembler) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for base, e := range r.entries {
		if e.state != StateMerged && e.state != StateFailed {
			continue
		}
		if !e.updated.Before(cutoff) || !e.busy.TryLock() {
			continue
		}
		delete(r.entries, base)
		e.busy.Unlock()
		n++
	}
	return n
}

func (r *Reassembler) entry(base string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[base]
	if !ok {
		e = &entry{updated: time.Now()}
		r.entries[base] = e
	}
	return e
}

// acquire returns the registered entry for base with busy held, shared for
// Put and exclusive for Merge. An entry dropped from the map between lookup
// and locking is retried so two holders never lock different entries.
func (r *Reassembler) acquire(base string, exclusive bool) (*entry, error) {
	for {
		e := r.entry(base)
		var ok bool
		if exclusive {
			ok = e.busy.TryLock()
		} else {
			ok = e.busy.TryRLock()
		}
		if !ok {
			return nil, ErrMergeInProgress
		}

		r.mu.Lock()
		live := r.entries[base] == e
		r.mu.Unlock()
		if live {
			return e, nil
		}
		if exclusive {
			e.busy.Unlock()
		} else {
			e.busy.RUnlock()
		}
	}
}

func (r *Reassembler) setState(e *entry, s State) {
	r.mu.Lock()
	e.state = s
	e.updated = time.Now()
	r.mu.Unlock()
}

// Put moves an uploaded chunk into the staging directory of its logical name.
// The incoming file is consumed on success.
func (r *Reassembler) Put(ctx context.Context, in Incoming) (Chunk, error) {
	if err := ctx.Err(); err != nil {
		return Chunk{}, err
	}
	if err := ValidateName(in.Name); err != nil {
		return Chunk{}, err
	}
	base, index, _ := LogicalName(in.Name)
	if err := ValidateName(base); err != nil {
		return Chunk{}, err
	}

	e, err := r.acquire(base, false)
	if err != nil {
		return Chunk{}, fmt.Errorf("%w: %s", err, base)
	}
	defer e.busy.RUnlock()
	r.setState(e, StateCollecting)

	dir := r.StagingDir(base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Chunk{}, fmt.Errorf("create staging dir: %w", err)
	}
	dst := filepath.Join(dir, in.Name)
	if err := moveFile(in.Path, dst); err != nil {
		return Chunk{}, fmt.Errorf("stage chunk %s: %w", in.Name, err)
	}
	fi, err := os.Stat(dst)
	if err != nil {
		return Chunk{}, fmt.Errorf("stat chunk %s: %w", in.Name, err)
	}

	if r.metrics != nil {
		r.metrics.IncChunksReceived()
	}
	r.log.Debug("chunk staged",
		slog.String("name", base),
		slog.String("chunk", in.Name),
		slog.Int64("size", fi.Size()))
	return Chunk{Name: in.Name, Index: index, Path: dst, Size: fi.Size()}, nil
}

// moveFile renames src to dst, falling back to an atomic copy when the two
// are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	t, err := renameio.NewPendingFile(dst, renameio.WithPermissions(0o644))
	if err != nil {
		return err
	}
	defer t.Cleanup()
	if _, err := io.Copy(t, in); err != nil {
		return err
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return err
	}
	return os.Remove(src)
}

// Scan lists the staging directory of base in index order and assigns every
// chunk its byte offset.
func (r *Reassembler) Scan(base string) (ChunkSet, error) {
	set := ChunkSet{LogicalName: base, StagingDir: r.StagingDir(base)}

	des, err := os.ReadDir(set.StagingDir)
	if errors.Is(err, fs.ErrNotExist) {
		return set, &MergeError{Name: base, Err: ErrNotFound}
	}
	if err != nil {
		return set, &MergeError{Name: base, Err: err}
	}
	if len(des) == 0 {
		return set, &MergeError{Name: base, Err: fmt.Errorf("%w: staging directory is empty", ErrNotFound)}
	}

	seen := make(map[int]string, len(des))
	for _, de := range des {
		name := de.Name()
		if !de.Type().IsRegular() {
			return set, &MergeError{Name: base, Chunk: name, Err: fmt.Errorf("%w: not a regular file", ErrValidation)}
		}
		cb, index, ok := LogicalName(name)
		if !ok {
			// An unsuffixed file is only unambiguous as the sole chunk.
			if name != base || len(des) != 1 {
				return set, &MergeError{Name: base, Chunk: name, Err: fmt.Errorf("%w: missing index suffix", ErrValidation)}
			}
			cb = base
		}
		if cb != base {
			return set, &MergeError{Name: base, Chunk: name, Err: fmt.Errorf("%w: belongs to %q", ErrValidation, cb)}
		}
		if prev, dup := seen[index]; dup {
			return set, &MergeError{Name: base, Chunk: name, Err: fmt.Errorf("%w: index %d also used by %s", ErrValidation, index, prev)}
		}
		seen[index] = name

		fi, err := de.Info()
		if err != nil {
			return set, &MergeError{Name: base, Chunk: name, Err: err}
		}
		set.Chunks = append(set.Chunks, Chunk{
			Name:  name,
			Index: index,
			Path:  filepath.Join(set.StagingDir, name),
			Size:  fi.Size(),
		})
	}

	sort.Slice(set.Chunks, func(i, j int) bool { return set.Chunks[i].Index < set.Chunks[j].Index })
	var off int64
	for i := range set.Chunks {
		set.Chunks[i].Offset = off
		off += set.Chunks[i].Size
	}
	return set, nil
}

// Merge reassembles the chunks staged for name into MergeDir/<base>. The
// staging directory is removed only after every chunk has been copied; on any
// failure it is kept and no destination file is produced.
func (r *Reassembler) Merge(ctx context.Context, name string) (*MergeResult, error) {
	base := r.resolveBase(name)
	if err := ValidateName(base); err != nil {
		return nil, &MergeError{Name: name, Err: err}
	}

	e, err := r.acquire(base, true)
	if err != nil {
		return nil, &MergeError{Name: base, Err: err}
	}
	defer e.busy.Unlock()

	prev := e.state
	r.setState(e, StateMerging)
	log := r.log.With(slog.String("name", base))

	set, err := r.Scan(base)
	if errors.Is(err, ErrNotFound) {
		// Nothing was touched; keep the previous state (e.g. merged).
		r.mu.Lock()
		if prev == "" {
			delete(r.entries, base)
		} else {
			e.state = prev
		}
		r.mu.Unlock()
		return nil, err
	}
	if err != nil {
		r.fail(log, e, err, outcomeFor(ctx))
		return nil, err
	}

	res, err := r.write(ctx, set)
	if err != nil {
		r.fail(log, e, err, outcomeFor(ctx))
		return nil, err
	}

	if err := os.RemoveAll(set.StagingDir); err != nil {
		log.Warn("remove staging dir", slog.String("error", err.Error()))
	}
	r.setState(e, StateMerged)
	if r.metrics != nil {
		r.metrics.ObserveMerge(metrics.OutcomeSucceeded, res.Size)
	}
	log.Info("chunks merged",
		slog.String("path", res.Path),
		slog.Int("chunks", len(res.Chunks)),
		slog.Int64("size", res.Size))
	return res, nil
}

// resolveBase accepts either the logical name or its staging directory name
// ("chunk-<base>"). A name with chunks staged under it is taken as given.
func (r *Reassembler) resolveBase(name string) string {
	b, ok := strings.CutPrefix(name, stagingPrefix)
	if !ok || b == "" || isDir(r.StagingDir(name)) {
		return name
	}
	if isDir(r.StagingDir(b)) {
		return b
	}
	return name
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

// write copies every chunk into its precomputed range of a partial file and
// renames it into place once the completed copies equal the chunk count.
func (r *Reassembler) write(ctx context.Context, set ChunkSet) (*MergeResult, error) {
	base := set.LogicalName
	if err := os.MkdirAll(r.opts.MergeDir, 0o755); err != nil {
		return nil, &MergeError{Name: base, Err: fmt.Errorf("create merge dir: %w", err)}
	}
	dest := filepath.Join(r.opts.MergeDir, base)
	partial := dest + partialSuffix

	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &MergeError{Name: base, Err: err}
	}
	discard := func(err error) (*MergeResult, error) {
		f.Close()
		os.Remove(partial)
		var me *MergeError
		if !errors.As(err, &me) {
			err = &MergeError{Name: base, Err: err}
		}
		return nil, err
	}

	total := set.Size()
	if err := f.Truncate(total); err != nil {
		return discard(err)
	}

	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.Concurrency)
	for _, c := range set.Chunks {
		g.Go(func() error {
			if err := copyChunk(gctx, f, c); err != nil {
				return &MergeError{Name: base, Chunk: c.Name, Err: err}
			}
			done.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return discard(err)
	}
	if n := done.Load(); n != int64(len(set.Chunks)) {
		return discard(fmt.Errorf("copied %d of %d chunks", n, len(set.Chunks)))
	}

	if err := f.Sync(); err != nil {
		return discard(err)
	}
	fi, err := f.Stat()
	if err != nil {
		return discard(err)
	}
	if fi.Size() != total {
		return discard(fmt.Errorf("merged size %d, want %d", fi.Size(), total))
	}
	if err := f.Close(); err != nil {
		os.Remove(partial)
		return nil, &MergeError{Name: base, Err: err}
	}
	if err := os.Rename(partial, dest); err != nil {
		os.Remove(partial)
		return nil, &MergeError{Name: base, Err: err}
	}

	return &MergeResult{Name: base, Path: dest, Size: total, Chunks: set.Chunks}, nil
}

// copyChunk writes exactly c.Size bytes of the chunk at c.Offset.
func copyChunk(ctx context.Context, dst io.WriterAt, c Chunk) error {
	src, err := os.Open(c.Path)
	if err != nil {
		return err
	}
	defer src.Close()

	w := io.NewOffsetWriter(dst, c.Offset)
	if _, err := io.CopyN(w, ctxReader{ctx: ctx, r: src}, c.Size); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("chunk shorter than %d bytes: %w", c.Size, io.ErrUnexpectedEOF)
		}
		return err
	}
	return nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

func (r *Reassembler) fail(log *slog.Logger, e *entry, err error, outcome string) {
	r.setState(e, StateFailed)
	if r.metrics != nil {
		r.metrics.ObserveMerge(outcome, 0)
	}
	log.Error("merge failed, staging kept", slog.String("error", err.Error()))
}

func outcomeFor(ctx context.Context) string {
	if ctx.Err() != nil {
		return metrics.OutcomeCanceled
	}
	return metrics.OutcomeFailed
}
