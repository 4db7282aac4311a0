// Package remote is the network boundary to the knowledge base service.
package remote

import "context"

//go:generate mockgen -source=store.go -destination=mock_store.go -package=remote

// Collection is a named remote grouping of documents.
type Collection struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Store is the stateless facade over the knowledge base API.
//
// Error semantics:
//   - Attach, Detach and DeleteDocument treat a missing remote object as
//     already-satisfied and return errors.ErrNotFound so callers can
//     decide; the reconciliation engine treats it as success.
//   - CreateCollection returns errors.ErrAlreadyExists when the name was
//     created concurrently; callers fall back to ListCollections.
//   - UploadDocument returns the existing document id together with
//     errors.ErrDuplicateContent when the remote deduplicated the upload.
//   - Network failures and 5xx responses are wrapped as transient and
//     retried on the next scheduled pass, not within the pass.
type Store interface {
	ListCollections(ctx context.Context) ([]Collection, error)
	CreateCollection(ctx context.Context, name string) (string, error)
	UploadDocument(ctx context.Context, name, content string) (string, error)
	Attach(ctx context.Context, collectionID, documentID string) error
	Detach(ctx context.Context, collectionID, documentID string) error
	DeleteDocument(ctx context.Context, documentID string) error
}
