// Package engine converges remote knowledge base state with the locally
// declared collection memberships, one document at a time.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/alexjbarnes/kbsync/internal/directory"
	kberrors "github.com/alexjbarnes/kbsync/internal/errors"
	"github.com/alexjbarnes/kbsync/internal/fingerprint"
	"github.com/alexjbarnes/kbsync/internal/notes"
	"github.com/alexjbarnes/kbsync/internal/remote"
	"github.com/alexjbarnes/kbsync/internal/state"
)

// Source provides document content by identity.
type Source interface {
	Read(identity string) (string, error)
}

// TransformFunc rewrites document text into its uploadable form. Applied
// before fingerprinting, so the hash always describes what the remote
// actually stores.
type TransformFunc func(text, contextName string) string

// Engine reconciles one document per call against the remote store,
// updating the sync record transactionally per document. Documents are
// independent; the scheduler may run several reconciliations concurrently.
type Engine struct {
	source    Source
	transform TransformFunc
	store     remote.Store
	dir       *directory.Directory
	state     *state.Store
	logger    *slog.Logger
}

// New creates an engine.
func New(source Source, transform TransformFunc, store remote.Store, dir *directory.Directory, st *state.Store, logger *slog.Logger) *Engine {
	return &Engine{
		source:    source,
		transform: transform,
		store:     store,
		dir:       dir,
		state:     st,
		logger:    logger,
	}
}

// SyncDocument reconciles a single document: given its freshly declared
// collection memberships, it issues the minimal set of remote operations
// to converge remote state, then persists the outcome. An untouched
// document costs zero remote calls.
//
// A returned error means the document's reconciliation was aborted for
// this pass with its previous record intact; it is retried next pass.
func (e *Engine) SyncDocument(ctx context.Context, doc notes.DocInfo, declared []string) error {
	previous, err := e.state.Get(doc.Identity)
	if err != nil {
		return fmt.Errorf("reading sync record for %s: %w", doc.Identity, err)
	}

	declaredSet := mapset.NewThreadUnsafeSet(declared...)

	// Removal case: no declared memberships left.
	if declaredSet.IsEmpty() {
		if previous == nil {
			return nil
		}

		return e.remove(ctx, doc.Identity, previous)
	}

	fp, transformed, err := e.fingerprintDocument(doc, previous)
	if err != nil {
		return err
	}

	contentChanged := previous == nil || fp != previous.Fingerprint

	prevSet := mapset.NewThreadUnsafeSet[string]()
	if previous != nil {
		prevSet = mapset.NewThreadUnsafeSet(previous.Memberships...)
	}

	membershipChanged := !declaredSet.Equal(prevSet)

	modMilli := doc.ModifiedAt.UnixMilli()

	if !contentChanged && !membershipChanged {
		// Converged. Refresh the recorded mtime so the next pass takes
		// the fast path even when the file was touched without edits.
		if previous.SourceModifiedAt != modMilli {
			previous.SourceModifiedAt = modMilli
			if err := e.state.Put(doc.Identity, *previous); err != nil {
				return fmt.Errorf("refreshing sync record for %s: %w", doc.Identity, err)
			}
		}

		return nil
	}

	var (
		remoteID  string
		targets   mapset.Set[string]
		confirmed mapset.Set[string]
	)

	if contentChanged {
		// The old upload is invalidated: retire it fully, then attach the
		// fresh upload to every declared collection, not just the delta.
		if previous != nil && previous.RemoteID != "" {
			e.retire(ctx, doc.Identity, previous)
		}

		remoteID, err = e.upload(ctx, doc, transformed, fp)
		if err != nil {
			return err
		}

		targets = declaredSet
		confirmed = mapset.NewThreadUnsafeSet[string]()
	} else {
		// Membership-only delta against the existing remote document.
		remoteID = previous.RemoteID
		targets = declaredSet.Difference(prevSet)
		confirmed = declaredSet.Intersect(prevSet)

		// A membership that fails to detach stays in the record, keeping
		// the diff alive so the next pass retries the detach.
		for _, name := range sorted(prevSet.Difference(declaredSet)) {
			if !e.detachByName(ctx, doc.Identity, name, remoteID) {
				confirmed.Add(name)
			}
		}
	}

	// Attach step. Per-collection failures are logged and skipped; the
	// persisted record holds only confirmed memberships so the next pass
	// still sees a diff and retries the stragglers.
	for _, name := range sorted(targets) {
		collectionID, err := e.dir.GetOrCreate(ctx, name)
		if err != nil {
			e.logger.Warn("resolving collection failed, skipping attach",
				slog.String("doc", doc.Identity),
				slog.String("collection", name),
				slog.String("error", err.Error()),
			)

			continue
		}

		if err := e.store.Attach(ctx, collectionID, remoteID); err != nil && !kberrors.Is(err, kberrors.ErrNotFound) {
			e.logger.Warn("attach failed, skipping collection",
				slog.String("doc", doc.Identity),
				slog.String("collection", name),
				slog.String("error", err.Error()),
			)

			continue
		}

		confirmed.Add(name)
	}

	rec := state.SyncRecord{
		RemoteID:         remoteID,
		Fingerprint:      fp,
		SourceModifiedAt: modMilli,
		Memberships:      sorted(confirmed),
	}

	if err := e.state.Put(doc.Identity, rec); err != nil {
		return fmt.Errorf("persisting sync record for %s: %w", doc.Identity, err)
	}

	if err := e.state.SetDeclared(doc.Identity, sorted(declaredSet)); err != nil {
		return fmt.Errorf("persisting declared snapshot for %s: %w", doc.Identity, err)
	}

	e.logger.Info("document reconciled",
		slog.String("doc", doc.Identity),
		slog.Bool("content_changed", contentChanged),
		slog.Int("memberships", len(rec.Memberships)),
	)

	return nil
}

// Remove runs the removal case for a document that disappeared locally:
// detach from every last-confirmed collection, best-effort delete the
// remote document, drop the sync record.
func (e *Engine) Remove(ctx context.Context, identity string) error {
	previous, err := e.state.Get(identity)
	if err != nil {
		return fmt.Errorf("reading sync record for %s: %w", identity, err)
	}

	if previous == nil {
		return nil
	}

	return e.remove(ctx, identity, previous)
}

// fingerprintDocument returns the document's content fingerprint, reading
// and transforming content only when the modification time moved since
// the last upload. transformed is empty on the fast path; it is always
// populated when the content could have changed.
func (e *Engine) fingerprintDocument(doc notes.DocInfo, previous *state.SyncRecord) (fp, transformed string, err error) {
	if previous != nil && previous.SourceModifiedAt == doc.ModifiedAt.UnixMilli() {
		return previous.Fingerprint, "", nil
	}

	raw, err := e.source.Read(doc.Identity)
	if err != nil {
		return "", "", err
	}

	transformed = e.transform(raw, filepath.Base(doc.Identity))

	return fingerprint.Hash(transformed), transformed, nil
}

// upload pushes transformed content under its stable name and returns the
// remote document id. A deduplicated upload is convergence: the remote's
// existing id is adopted.
func (e *Engine) upload(ctx context.Context, doc notes.DocInfo, transformed, fp string) (string, error) {
	name := fingerprint.StableName(doc.Identity, filepath.Base(doc.Identity), fp)

	remoteID, err := e.store.UploadDocument(ctx, name, transformed)
	if err != nil {
		if kberrors.Is(err, kberrors.ErrDuplicateContent) && remoteID != "" {
			e.logger.Debug("upload deduplicated by remote",
				slog.String("doc", doc.Identity),
				slog.String("remote_id", remoteID),
			)

			return remoteID, nil
		}

		return "", fmt.Errorf("uploading %s: %w", doc.Identity, err)
	}

	return remoteID, nil
}

// remove detaches a retired document from all confirmed collections,
// best-effort deletes it remotely, and drops its persisted state.
func (e *Engine) remove(ctx context.Context, identity string, previous *state.SyncRecord) error {
	e.retire(ctx, identity, previous)

	if err := e.state.Delete(identity); err != nil {
		return fmt.Errorf("deleting sync record for %s: %w", identity, err)
	}

	if err := e.state.DeleteDeclared(identity); err != nil {
		return fmt.Errorf("deleting declared snapshot for %s: %w", identity, err)
	}

	e.logger.Info("document removed from knowledge base", slog.String("doc", identity))

	return nil
}

// retire detaches previous.RemoteID from every membership and best-effort
// deletes the remote document. All failures are non-critical: the document
// may be referenced elsewhere, and leftover attachments are reconciled on
// a later pass.
func (e *Engine) retire(ctx context.Context, identity string, previous *state.SyncRecord) {
	for _, name := range previous.Memberships {
		e.detachByName(ctx, identity, name, previous.RemoteID)
	}

	if previous.RemoteID == "" {
		return
	}

	if err := e.store.DeleteDocument(ctx, previous.RemoteID); err != nil && !kberrors.Is(err, kberrors.ErrNotFound) {
		nc := kberrors.NonCritical(err)
		e.logger.Warn("best-effort remote delete failed",
			slog.String("doc", identity),
			slog.String("remote_id", previous.RemoteID),
			slog.String("error", nc.Error()),
		)
	}
}

// detachByName resolves a collection name and detaches the document from
// it, reporting whether the attachment is confirmed gone. Absent
// collections and not-found links count as already detached; other
// failures are logged per collection and never block the rest.
func (e *Engine) detachByName(ctx context.Context, identity, name, remoteID string) bool {
	collectionID, ok, err := e.dir.Resolve(ctx, name)
	if err != nil {
		e.logger.Warn("resolving collection for detach failed",
			slog.String("doc", identity),
			slog.String("collection", name),
			slog.String("error", err.Error()),
		)

		return false
	}

	if !ok {
		// Collection no longer exists remotely; nothing to detach from.
		return true
	}

	if err := e.store.Detach(ctx, collectionID, remoteID); err != nil && !kberrors.Is(err, kberrors.ErrNotFound) {
		nc := kberrors.NonCritical(err)
		e.logger.Warn("detach failed",
			slog.String("doc", identity),
			slog.String("collection", name),
			slog.String("error", nc.Error()),
		)

		return false
	}

	return true
}

func sorted(s mapset.Set[string]) []string {
	names := s.ToSlice()
	sort.Strings(names)

	return names
}
