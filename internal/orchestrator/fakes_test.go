package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"hls-packager/internal/media"
	"hls-packager/internal/platform/logger"
)

type fakeProber struct {
	dims  media.Dimensions
	err   error
	calls int
}

func (p *fakeProber) Probe(ctx context.Context, path string) (media.Dimensions, error) {
	p.calls++
	if p.err != nil {
		return media.Dimensions{}, p.err
	}
	return p.dims, nil
}

// fakeEncoder writes a one-segment rendition per call. Behaviour is keyed by
// rendition name, taken from the playlist's parent directory.
type fakeEncoder struct {
	mu       sync.Mutex
	delay    map[string]time.Duration
	fail     map[string]error
	block    bool
	calls    []media.EncodeOptions
	inFlight int
	maxSeen  int
	started  chan string
}

func renditionOf(opts media.EncodeOptions) string {
	return filepath.Base(filepath.Dir(opts.Playlist))
}

func (f *fakeEncoder) Encode(ctx context.Context, opts media.EncodeOptions) error {
	name := renditionOf(opts)

	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	d, ferr, block := f.delay[name], f.fail[name], f.block
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.started != nil {
		f.started <- name
	}

	dir := filepath.Dir(opts.Playlist)
	if err := os.WriteFile(filepath.Join(dir, "segment0.ts"), []byte("ts"), 0o644); err != nil {
		return err
	}

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if ferr != nil {
		return ferr
	}
	return os.WriteFile(opts.Playlist, []byte("#EXTM3U\n#EXT-X-ENDLIST\n"), 0o644)
}

func (f *fakeEncoder) optionsFor(name string) (media.EncodeOptions, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.calls {
		if renditionOf(o) == name {
			return o, true
		}
	}
	return media.EncodeOptions{}, false
}

type testEnv struct {
	root    string
	hlsDir  string
	source  string
	repo    *InMemoryRepository
	prober  *fakeProber
	encoder *fakeEncoder
	svc     *Service
}

func newTestEnv(t interface {
	TempDir() string
	Fatal(...any)
}, opts Options) *testEnv {
	root := t.TempDir()
	env := &testEnv{
		root:    root,
		hlsDir:  filepath.Join(root, "hls"),
		source:  filepath.Join(root, "uploads", "src.mp4"),
		repo:    NewInMemoryRepository(),
		prober:  &fakeProber{dims: media.Dimensions{Width: 1920, Height: 1080}},
		encoder: &fakeEncoder{},
	}
	if err := os.MkdirAll(filepath.Dir(env.source), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(env.source, []byte("source bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	opts.OutputRoot = env.hlsDir
	env.svc = NewService(env.repo, env.prober, env.encoder, opts, logger.Discard(), nil)
	return env
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
