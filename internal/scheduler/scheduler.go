// Package scheduler drives reconciliation passes: it decides when a pass
// may run, walks the corpus, and feeds documents to the engine in batches
// sized for the current network conditions.
package scheduler

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alexjbarnes/kbsync/internal/config"
	kberrors "github.com/alexjbarnes/kbsync/internal/errors"
	"github.com/alexjbarnes/kbsync/internal/notes"
)

// ErrPassInProgress is returned by TrySync when a pass is already running.
// Callers treat it as "come back later", not as a failure.
var ErrPassInProgress = kberrors.New("sync pass already in progress")

// Reconciler is the per-document surface the scheduler drives.
type Reconciler interface {
	SyncDocument(ctx context.Context, doc notes.DocInfo, declared []string) error
	Remove(ctx context.Context, identity string) error
}

// StateIndex lists the identities that currently hold a sync record, so a
// pass can find documents that vanished locally.
type StateIndex interface {
	AllIDs() ([]string, error)
}

// NetworkProber reports the connectivity class a pass would run under.
// Evaluated fresh at the start of every pass.
type NetworkProber interface {
	Class(ctx context.Context) config.NetworkClass
}

// PowerProber reports battery state. ok is false when no battery exists
// (desktops, containers), which never gates a pass.
type PowerProber interface {
	Status() (percent int, onBattery, ok bool)
}

// Progress is a snapshot of the most recent pass.
type Progress struct {
	Succeeded int64
	Total     int64
	HadError  bool
}

// Scheduler runs reconciliation passes on an interval and on demand.
// Passes are single-flight: a trigger arriving while one runs is rejected
// rather than queued, since the running pass already sees current state.
type Scheduler struct {
	cfg     *config.Config
	corpus  *notes.Corpus
	rec     Reconciler
	index   StateIndex
	network NetworkProber
	power   PowerProber
	logger  *slog.Logger

	// running is the flight flag. An atomic rather than a mutex so that
	// release is idempotent: ForceRelease during a wedged pass must not
	// blow up when that pass eventually unwinds and releases again.
	running atomic.Bool

	succeeded atomic.Int64
	total     atomic.Int64
	hadError  atomic.Bool
}

// New creates a scheduler.
func New(cfg *config.Config, corpus *notes.Corpus, rec Reconciler, index StateIndex, network NetworkProber, power PowerProber, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		corpus:  corpus,
		rec:     rec,
		index:   index,
		network: network,
		power:   power,
		logger:  logger,
	}
}

// Start runs an immediate pass, then one pass per configured interval
// until the context is cancelled. The timer is reset only after a pass
// finishes, so slow passes never stack.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runLogged(ctx)

	timer := time.NewTimer(s.cfg.SyncInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.runLogged(ctx)
			timer.Reset(s.cfg.SyncInterval)
		}
	}
}

// TrySync runs one pass now. Returns ErrPassInProgress when another pass
// holds the flight flag.
func (s *Scheduler) TrySync(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrPassInProgress
	}
	defer s.running.Store(false)

	return s.runPass(ctx)
}

// ForceRelease clears the flight flag regardless of holder. Escape hatch
// for recovering from a wedged pass; normal shutdown never needs it. The
// wedged pass's own deferred release stays harmless since clearing an
// already-clear flag is a no-op.
func (s *Scheduler) ForceRelease() {
	s.running.Store(false)
}

// Progress reports counters from the most recent (or running) pass.
func (s *Scheduler) Progress() Progress {
	return Progress{
		Succeeded: s.succeeded.Load(),
		Total:     s.total.Load(),
		HadError:  s.hadError.Load(),
	}
}

func (s *Scheduler) runLogged(ctx context.Context) {
	err := s.TrySync(ctx)

	switch {
	case err == nil:
	case kberrors.Is(err, ErrPassInProgress):
		s.logger.Debug("scheduled pass skipped, previous still running")
	case kberrors.Is(err, context.Canceled):
	default:
		s.logger.Error("sync pass failed", slog.String("error", err.Error()))
	}
}

// runPass executes one full reconciliation pass. Per-document failures
// are counted and logged without aborting the pass; only structural
// failures (corpus walk, state enumeration) return an error.
func (s *Scheduler) runPass(ctx context.Context) error {
	class := s.networkClass(ctx)

	if class == config.NetworkMetered && !s.cfg.SyncOnMetered {
		s.logger.Info("pass refused on metered network")
		return nil
	}

	if pct, onBattery, ok := s.power.Status(); ok && onBattery && s.cfg.MinBatteryPercent > 0 && pct < s.cfg.MinBatteryPercent {
		s.logger.Info("pass deferred on low battery",
			slog.Int("percent", pct),
			slog.Int("floor", s.cfg.MinBatteryPercent),
		)

		return nil
	}

	started := time.Now()

	s.succeeded.Store(0)
	s.total.Store(0)
	s.hadError.Store(false)

	docs, err := s.corpus.List(ctx)
	if err != nil {
		s.hadError.Store(true)
		return err
	}

	maxBytes := s.cfg.MaxFileBytes
	if class == config.NetworkMetered {
		maxBytes = s.cfg.MeteredMaxFileBytes
	}

	work := make([]notes.DocInfo, 0, len(docs))
	discovered := mapset.NewThreadUnsafeSet[string]()

	for _, doc := range docs {
		discovered.Add(doc.Identity)

		if maxBytes > 0 && doc.Size > maxBytes {
			s.logger.Warn("document over size cap, skipping this pass",
				slog.String("doc", doc.Identity),
				slog.Int64("size", doc.Size),
				slog.Int64("cap", maxBytes),
				slog.String("reason", kberrors.ErrDocumentTooLarge.Error()),
			)

			continue
		}

		work = append(work, doc)
	}

	removals, err := s.removals(discovered)
	if err != nil {
		s.hadError.Store(true)
		return err
	}

	s.total.Store(int64(len(work) + len(removals)))

	if class == config.NetworkMetered {
		s.runSequential(ctx, work, s.cfg.MeteredBatchSize)
	} else {
		s.runParallel(ctx, work, s.cfg.BatchSize)
	}

	for _, identity := range removals {
		if ctx.Err() != nil {
			break
		}

		if err := s.rec.Remove(ctx, identity); err != nil {
			s.hadError.Store(true)
			s.logger.Error("removal failed", slog.String("doc", identity), slog.String("error", err.Error()))

			continue
		}

		s.succeeded.Add(1)
	}

	s.logger.Info("sync pass complete",
		slog.Int64("succeeded", s.succeeded.Load()),
		slog.Int64("total", s.total.Load()),
		slog.Bool("had_error", s.hadError.Load()),
		slog.String("network", string(class)),
		slog.Duration("elapsed", time.Since(started)),
	)

	return ctx.Err()
}

// runParallel reconciles documents batch by batch, with up to MaxParallel
// documents in flight inside each batch.
func (s *Scheduler) runParallel(ctx context.Context, work []notes.DocInfo, batchSize int) {
	sem := semaphore.NewWeighted(int64(s.cfg.MaxParallel))

	for _, batch := range chunk(work, batchSize) {
		if ctx.Err() != nil {
			return
		}

		g, gctx := errgroup.WithContext(ctx)

		for _, doc := range batch {
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					// Pass cancelled before this document started; it
					// stays unattempted and counts toward the shortfall.
					s.logger.Debug("document skipped, pass cancelled",
						slog.String("doc", doc.Identity))

					return nil
				}
				defer sem.Release(1)

				s.syncOne(gctx, doc)

				return nil
			})
		}

		_ = g.Wait()
	}
}

// runSequential reconciles documents one at a time with a pause between
// batches, keeping metered connections quiet.
func (s *Scheduler) runSequential(ctx context.Context, work []notes.DocInfo, batchSize int) {
	batches := chunk(work, batchSize)

	for i, batch := range batches {
		if ctx.Err() != nil {
			return
		}

		for _, doc := range batch {
			if ctx.Err() != nil {
				return
			}

			s.syncOne(ctx, doc)
		}

		if i < len(batches)-1 && s.cfg.MeteredBatchPause > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.MeteredBatchPause):
			}
		}
	}
}

// syncOne extracts the document's declared memberships fresh and hands it
// to the engine, folding the outcome into the pass counters.
func (s *Scheduler) syncOne(ctx context.Context, doc notes.DocInfo) {
	declared, err := s.corpus.DeclaredMemberships(doc.Identity, doc.ModifiedAt)
	if err != nil {
		if kberrors.Is(err, kberrors.ErrDocumentVanished) {
			// Deleted between discovery and now; the next pass removes it.
			s.logger.Debug("document vanished mid-pass", slog.String("doc", doc.Identity))
			return
		}

		s.hadError.Store(true)
		s.logger.Error("extracting memberships failed", slog.String("doc", doc.Identity), slog.String("error", err.Error()))

		return
	}

	if err := s.rec.SyncDocument(ctx, doc, declared); err != nil {
		s.hadError.Store(true)
		s.logger.Error("document sync failed", slog.String("doc", doc.Identity), slog.String("error", err.Error()))

		return
	}

	s.succeeded.Add(1)
}

// removals returns identities with a sync record that were not discovered
// in this pass, meaning the local file is gone.
func (s *Scheduler) removals(discovered mapset.Set[string]) ([]string, error) {
	ids, err := s.index.AllIDs()
	if err != nil {
		return nil, err
	}

	var gone []string

	for _, id := range ids {
		if !discovered.Contains(id) {
			gone = append(gone, id)
		}
	}

	return gone, nil
}

func (s *Scheduler) networkClass(ctx context.Context) config.NetworkClass {
	if s.cfg.NetworkClassOverride != "" {
		return config.NetworkClass(s.cfg.NetworkClassOverride)
	}

	return s.network.Class(ctx)
}

func chunk(docs []notes.DocInfo, size int) [][]notes.DocInfo {
	if size < 1 {
		size = 1
	}

	var batches [][]notes.DocInfo

	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		batches = append(batches, docs[start:end])
	}

	return batches
}

// meteredPrefixes are interface name prefixes that indicate a mobile or
// tethered uplink.
var meteredPrefixes = []string{"wwan", "rmnet", "ppp", "usb"}

// ifaceProber classifies the network by inspecting which interfaces carry
// the connection. Crude but dependency-free; KB_NETWORK_CLASS overrides it
// when the guess is wrong.
type ifaceProber struct{}

// NewNetworkProber returns the default interface-name based prober.
func NewNetworkProber() NetworkProber {
	return ifaceProber{}
}

func (ifaceProber) Class(_ context.Context) config.NetworkClass {
	ifaces, err := net.Interfaces()
	if err != nil {
		return config.NetworkUnmetered
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		name := strings.ToLower(iface.Name)
		for _, prefix := range meteredPrefixes {
			if strings.HasPrefix(name, prefix) {
				return config.NetworkMetered
			}
		}
	}

	return config.NetworkUnmetered
}
