package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"

	kberrors "github.com/alexjbarnes/kbsync/internal/errors"
)

const (
	// requestTimeout bounds a single API request including retries' reads.
	requestTimeout = 30 * time.Second

	// retryCount is the number of in-request retries for transient
	// failures. Anything still failing after these is deferred to the
	// next scheduled pass.
	retryCount = 3

	retryMinWait = 1 * time.Second
	retryMaxWait = 5 * time.Second
)

// Error codes the knowledge base API returns in error bodies.
const (
	codeCollectionExists = "collection_exists"
	codeDuplicateContent = "duplicate_content"
)

// Client talks to the knowledge base REST API. Implements Store.
type Client struct {
	http *req.Client
}

// NewClient creates an API client for the given endpoint, authenticating
// with the given API key. Retries with backoff are applied to network
// failures and 5xx/429 responses only; 4xx responses are mapped to typed
// errors without retrying.
func NewClient(endpoint, apiKey string) *Client {
	c := req.C().
		SetBaseURL(endpoint).
		SetTimeout(requestTimeout).
		SetCommonBearerAuthToken(apiKey).
		SetCommonRetryCount(retryCount).
		SetCommonRetryBackoffInterval(retryMinWait, retryMaxWait).
		AddCommonRetryCondition(func(resp *req.Response, err error) bool {
			if err != nil {
				return true
			}

			return resp.StatusCode >= http.StatusInternalServerError ||
				resp.StatusCode == http.StatusTooManyRequests
		})

	return &Client{http: c}
}

// ListCollections returns every collection in the knowledge base.
func (c *Client) ListCollections(ctx context.Context) ([]Collection, error) {
	var out struct {
		Collections []Collection `json:"collections"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetSuccessResult(&out).
		Get("/api/v1/collections")
	if err := c.apiError(resp, err, "listing collections"); err != nil {
		return nil, err
	}

	return out.Collections, nil
}

// CreateCollection creates a collection and returns its id. A concurrent
// create by another client surfaces as errors.ErrAlreadyExists.
func (c *Client) CreateCollection(ctx context.Context, name string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBodyJsonMarshal(map[string]string{"name": name}).
		SetSuccessResult(&out).
		Post("/api/v1/collections")
	if err := c.apiError(resp, err, "creating collection "+name); err != nil {
		return "", err
	}

	return out.ID, nil
}

// UploadDocument uploads content under the given stable name and returns
// the remote document id. When the remote deduplicates the upload against
// existing content, the existing id is returned together with
// errors.ErrDuplicateContent.
func (c *Client) UploadDocument(ctx context.Context, name, content string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBodyJsonMarshal(map[string]string{"name": name, "content": content}).
		SetSuccessResult(&out).
		Post("/api/v1/documents")
	if apiErr := c.apiError(resp, err, "uploading "+name); apiErr != nil {
		if kberrors.Is(apiErr, kberrors.ErrDuplicateContent) {
			// The error body carries the id of the already-stored document.
			return gjson.Get(resp.String(), "id").String(), apiErr
		}

		return "", apiErr
	}

	return out.ID, nil
}

// Attach adds a document to a collection.
func (c *Client) Attach(ctx context.Context, collectionID, documentID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Put("/api/v1/collections/" + collectionID + "/documents/" + documentID)

	return c.apiError(resp, err, "attaching "+documentID+" to "+collectionID)
}

// Detach removes a document from a collection. A missing link surfaces as
// errors.ErrNotFound.
func (c *Client) Detach(ctx context.Context, collectionID, documentID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/api/v1/collections/" + collectionID + "/documents/" + documentID)

	return c.apiError(resp, err, "detaching "+documentID+" from "+collectionID)
}

// DeleteDocument removes a document from the knowledge base. A missing
// document surfaces as errors.ErrNotFound.
func (c *Client) DeleteDocument(ctx context.Context, documentID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete("/api/v1/documents/" + documentID)

	return c.apiError(resp, err, "deleting document "+documentID)
}

// apiError maps a response to the error taxonomy. Network failures and
// 5xx/429 responses (after in-request retries are exhausted) come back
// transient; well-known 4xx responses map to sentinels.
func (c *Client) apiError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return kberrors.Transient(fmt.Errorf("%s: %w", operation, requestErr))
	}

	if !resp.IsErrorState() {
		return nil
	}

	body := resp.String()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", operation, kberrors.ErrNotFound)

	case resp.StatusCode == http.StatusConflict:
		switch gjson.Get(body, "code").String() {
		case codeDuplicateContent:
			return fmt.Errorf("%s: %w", operation, kberrors.ErrDuplicateContent)
		case codeCollectionExists:
			return fmt.Errorf("%s: %w", operation, kberrors.ErrAlreadyExists)
		}

		return fmt.Errorf("%s: conflict: %s", operation, gjson.Get(body, "error").String())

	case resp.StatusCode >= http.StatusInternalServerError,
		resp.StatusCode == http.StatusTooManyRequests:
		return kberrors.Transient(fmt.Errorf("%s: status %d: %s",
			operation, resp.StatusCode, gjson.Get(body, "error").String()))
	}

	return fmt.Errorf("%s: status %d: %s",
		operation, resp.StatusCode, gjson.Get(body, "error").String())
}
