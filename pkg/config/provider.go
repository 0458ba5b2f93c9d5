package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/vmgridlabs/updpolicy/pkg/domain"
	"github.com/vmgridlabs/updpolicy/pkg/policy"
	"github.com/vmgridlabs/updpolicy/pkg/telemetry"
)

const debounceInterval = 100 * time.Millisecond

// FileProvider watches a policy rule file and publishes immutable snapshots.
// The initial load must succeed; after that, a load that fails to parse is
// logged and dropped while the previous snapshot keeps serving.
type FileProvider struct {
	path    string
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu          sync.RWMutex
	snapshot    *Snapshot
	subscribers []chan *Snapshot

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
}

// ProviderOptions configure a FileProvider.
type ProviderOptions struct {
	// Path of the policy rule file. Required.
	Path string
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Metrics receives reload counters. Optional.
	Metrics *telemetry.Metrics
}

// NewFileProvider loads the rule file once and starts watching its directory
// for changes. The watch covers the directory rather than the file so
// editors that replace the file via rename are still observed.
func NewFileProvider(opts ProviderOptions) (*FileProvider, error) {
	absPath, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &FileProvider{
		path:    absPath,
		logger:  logger,
		metrics: opts.Metrics,
		watcher: watcher,
		cancel:  cancel,
	}

	// Initial load is one-shot and fatal on failure: without a valid
	// snapshot there is nothing to fall back to.
	if err := p.load(); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("initial policy load: %w", err)
	}

	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		cancel()
		_ = watcher.Close()
		return nil, fmt.Errorf("watch policy directory: %w", err)
	}

	go p.watchLoop(ctx)

	return p, nil
}

// Current returns the active snapshot. The returned value is immutable and
// stays valid after any subsequent reload.
func (p *FileProvider) Current() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snapshot
}

// Subscribe returns a channel receiving every new snapshot, starting with
// the current one. Slow consumers may miss intermediate snapshots but always
// converge on the latest.
func (p *FileProvider) Subscribe() <-chan *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan *Snapshot, 1)
	p.subscribers = append(p.subscribers, ch)
	ch <- p.snapshot
	return ch
}

// Close stops the watcher. Already-delivered snapshots remain usable.
func (p *FileProvider) Close() error {
	p.cancel()
	return p.watcher.Close()
}

func (p *FileProvider) watchLoop(ctx context.Context) {
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}

			if filepath.Clean(event.Name) != p.path {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Rename) || event.Has(fsnotify.Chmod) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceInterval, func() {
					if err := p.load(); err != nil {
						p.logger.Error("policy reload failed, keeping previous snapshot",
							"path", p.path, "error", err)
					}
				})
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("policy watcher error", "error", err)
		}
	}
}

func (p *FileProvider) load() error {
	rules, err := policy.ParseFile(p.path)
	if err != nil {
		p.metrics.RecordReload(err)
		if domain.IsParseError(err) {
			p.metrics.RecordParseFailure()
		}
		return err
	}

	snapshot := &Snapshot{
		Generation: uuid.NewString(),
		LoadedAt:   time.Now(),
		Path:       p.path,
		Rules:      rules,
	}

	p.mu.Lock()
	p.snapshot = snapshot
	subscribers := make([]chan *Snapshot, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.Unlock()

	p.metrics.RecordReload(nil)
	p.logger.Info("policy snapshot loaded",
		"path", p.path, "generation", snapshot.Generation, "rules", len(rules))

	for _, ch := range subscribers {
		// Replace a pending undelivered snapshot so the consumer always
		// converges on the newest one.
		select {
		case ch <- snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}

	return nil
}
