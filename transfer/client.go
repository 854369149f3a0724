package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/mediagit/mediagit/mgerr"
	"github.com/mediagit/mediagit/oid"
	"github.com/mediagit/mediagit/pack"
)

// Client talks the transfer protocol to a remote Server over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// maxParallel bounds concurrent chunk transfers during a large upload
	// or a multi-blob fetch.
	maxParallel int
}

// NewClient builds a Client against baseURL (no trailing slash).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxParallel: 4,
	}
}

func retryPolicy(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 10 * time.Second
	bo.Multiplier = 2
	bo.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(bo, 3), ctx)
}

func isRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return mgerr.Wrap(mgerr.IO, err, "encode request body")
		}
		bodyReader = bytes.NewReader(b)
	}

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return backoff.Permanent(mgerr.Wrap(mgerr.IO, err, "build request"))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return mgerr.Wrap(mgerr.IO, err, "perform request")
		}
		defer resp.Body.Close()

		if resp.StatusCode >= http.StatusBadRequest {
			var errResp errorResponse
			json.NewDecoder(resp.Body).Decode(&errResp)
			wrapped := mgerr.Newf(statusToKind(resp.StatusCode), "%s %s: %s", method, path, errResp.Error)
			if isRetryable(resp.StatusCode) {
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(mgerr.Wrap(mgerr.IO, err, "decode response body"))
			}
		}
		return nil
	}

	return backoff.Retry(op, retryPolicy(ctx))
}

func statusToKind(status int) mgerr.Kind {
	switch status {
	case http.StatusNotFound:
		return mgerr.NotFound
	case http.StatusBadRequest:
		return mgerr.Corrupt
	case http.StatusConflict:
		return mgerr.Conflict
	case http.StatusUnprocessableEntity:
		return mgerr.Integrity
	default:
		return mgerr.IO
	}
}

// ListRefs fetches every ref the remote currently advertises.
func (c *Client) ListRefs(ctx context.Context) (RefsResponse, error) {
	var resp RefsResponse
	err := c.doJSON(ctx, http.MethodGet, "/info/refs", nil, &resp)
	return resp, err
}

// Fetch negotiates want/have, downloads the pack (plus any large objects
// listed as a sidecar), and returns the decoded records as a slice, each
// carrying its own OID.
func (c *Client) Fetch(ctx context.Context, want, have []oid.OID) ([]pack.Record, error) {
	req := WantHaveRequest{Want: oidsToHex(want), Have: oidsToHex(have)}
	var wantResp WantHaveResponse
	if err := c.doJSON(ctx, http.MethodPost, "/objects/want", req, &wantResp); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/objects/pack?session=%s", c.baseURL, wantResp.Session), nil)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "build pack request")
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "download pack")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		var errResp errorResponse
		json.NewDecoder(resp.Body).Decode(&errResp)
		return nil, mgerr.Newf(statusToKind(resp.StatusCode), "download pack: %s", errResp.Error)
	}

	var manifest PackManifest
	if raw := resp.Header.Get("X-Large-Objects"); raw != "" {
		json.Unmarshal([]byte(raw), &manifest)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, mgerr.Wrap(mgerr.IO, err, "read pack body")
	}
	reader, err := pack.Open(body, nil)
	if err != nil {
		return nil, err
	}

	ids := reader.OIDs()
	records := make([]pack.Record, 0, len(ids)+len(manifest.ChunkOIDs))
	for _, id := range ids {
		kind, data, err := reader.Get(id)
		if err != nil {
			return nil, err
		}
		records = append(records, pack.Record{OID: id, Kind: kind, Data: data})
	}

	large, err := c.fetchLargeObjects(ctx, manifest.ChunkOIDs)
	if err != nil {
		return nil, err
	}
	records = append(records, large...)
	return records, nil
}

func (c *Client) fetchLargeObjects(ctx context.Context, hexes []string) ([]pack.Record, error) {
	if len(hexes) == 0 {
		return nil, nil
	}
	results := make([]pack.Record, len(hexes))
	errs := make([]error, len(hexes))

	sem := make(chan struct{}, c.maxParallel)
	var wg sync.WaitGroup
	for i, h := range hexes {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, hex string) {
			defer wg.Done()
			defer func() { <-sem }()
			data, err := c.fetchBlob(ctx, hex)
			if err != nil {
				errs[i] = err
				return
			}
			id, parseErr := oid.Parse(hex)
			if parseErr != nil {
				errs[i] = parseErr
				return
			}
			results[i] = pack.Record{OID: id, Data: data}
		}(i, h)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (c *Client) fetchBlob(ctx context.Context, hex string) ([]byte, error) {
	var data []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/objects/blob/"+hex, nil)
		if err != nil {
			return backoff.Permanent(mgerr.Wrap(mgerr.IO, err, "build blob request"))
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return mgerr.Wrap(mgerr.IO, err, "fetch blob")
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			wrapped := mgerr.Newf(statusToKind(resp.StatusCode), "fetch blob %s", hex)
			if isRetryable(resp.StatusCode) {
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return mgerr.Wrap(mgerr.IO, err, "read blob body")
		}
		data = body
		return nil
	}
	err := backoff.Retry(op, retryPolicy(ctx))
	return data, err
}

// Push uploads records as a single pack to the remote.
func (c *Client) Push(ctx context.Context, records []pack.Record) error {
	data, err := pack.Write(records)
	if err != nil {
		return err
	}
	var result struct {
		Count int `json:"count"`
	}
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/objects/pack", bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(mgerr.Wrap(mgerr.IO, err, "build push request"))
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return mgerr.Wrap(mgerr.IO, err, "push pack")
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusBadRequest {
			var errResp errorResponse
			json.NewDecoder(resp.Body).Decode(&errResp)
			wrapped := mgerr.Newf(statusToKind(resp.StatusCode), "push pack: %s", errResp.Error)
			if isRetryable(resp.StatusCode) {
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}
		return json.NewDecoder(resp.Body).Decode(&result)
	}
	return backoff.Retry(op, retryPolicy(ctx))
}

// UpdateRefs applies a batch of ref moves/deletes on the remote.
func (c *Client) UpdateRefs(ctx context.Context, updates []RefUpdate, force bool) (RefUpdateResponse, error) {
	var resp RefUpdateResponse
	err := c.doJSON(ctx, http.MethodPost, "/refs/update", RefUpdateRequest{Updates: updates, Force: force}, &resp)
	return resp, err
}

// uploadChunkSize is the part size used to split a large file across
// POST /upload/chunk calls.
const uploadChunkSize = 8 << 20

// UploadLargeFile splits data into parts, uploads each (up to
// maxParallel concurrently), and finalizes the upload, returning the
// resulting object OID.
func (c *Client) UploadLargeFile(ctx context.Context, data []byte, filename string) (oid.OID, error) {
	uploadID := uuid.NewString()
	total := (len(data) + uploadChunkSize - 1) / uploadChunkSize
	if total == 0 {
		total = 1
	}

	sem := make(chan struct{}, c.maxParallel)
	var wg sync.WaitGroup
	errs := make([]error, total)
	for i := 0; i < total; i++ {
		start := i * uploadChunkSize
		end := start + uploadChunkSize
		if end > len(data) {
			end = len(data)
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i, start, end int) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = c.uploadChunkPart(ctx, uploadID, i, total, data[start:end])
		}(i, start, end)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return oid.Zero, err
		}
	}

	var finResp finalizeResponse
	if err := c.doJSON(ctx, http.MethodPost, "/upload/finalize",
		finalizeRequest{UploadID: uploadID, Filename: filename}, &finResp); err != nil {
		return oid.Zero, err
	}
	return oid.Parse(finResp.OID)
}

func (c *Client) uploadChunkPart(ctx context.Context, uploadID string, index, total int, part []byte) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/upload/chunk", bytes.NewReader(part))
		if err != nil {
			return backoff.Permanent(mgerr.Wrap(mgerr.IO, err, "build chunk upload request"))
		}
		req.Header.Set(headerUploadID, uploadID)
		req.Header.Set(headerChunkIndex, strconv.Itoa(index))
		req.Header.Set(headerTotalChunks, strconv.Itoa(total))
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return mgerr.Wrap(mgerr.IO, err, "upload chunk")
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= http.StatusBadRequest {
			wrapped := mgerr.Newf(statusToKind(resp.StatusCode), "upload chunk %d/%d", index, total)
			if isRetryable(resp.StatusCode) {
				return wrapped
			}
			return backoff.Permanent(wrapped)
		}
		return nil
	}
	return backoff.Retry(op, retryPolicy(ctx))
}

func oidsToHex(ids []oid.OID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
