package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FractalBrew/file-store/src/models"
	"github.com/FractalBrew/file-store/src/storagepath"
	"github.com/FractalBrew/file-store/src/stream"
)

const (
	// defaultPartSize balances request overhead against the one-part memory
	// bound for multipart uploads. Writes at or below it go out as a single
	// request.
	defaultPartSize = 16 << 20

	listPageSize = 1000

	// maxResumes bounds how often a single download may resume from its
	// last acknowledged offset after a mid-stream transport error.
	maxResumes = 3

	// listSortWarnAt flags prefixes large enough that sort-before-yield
	// may become a memory concern.
	listSortWarnAt = 10000
)

// RemoteConfig is the immutable construction record for a RemoteStore.
type RemoteConfig struct {
	// Endpoint is the authorization host, e.g. https://api.backblazeb2.com.
	Endpoint string
	KeyID    string
	Key      string

	// Bucket is the bucket all objects live in; Prefix optionally confines
	// the visible key space to a sub-tree of it.
	Bucket string
	Prefix string

	// PartSize is the multipart threshold and part size in bytes.
	PartSize int64

	Retry RetryConfig
}

// RemoteStore maps the capability contract onto the B2 object storage
// protocol: flat keys, token-based sessions, multipart upload for large
// writes and bounded retry on transient failures.
type RemoteStore struct {
	transport Transport
	session   *remoteSession
	logger    *logrus.Logger

	bucket   string
	prefix   storagepath.Path
	partSize int64
	retry    RetryConfig

	mu           sync.Mutex
	bucketID     string
	uploadTarget *b2GetUploadURLResponse
}

// NewRemoteStore validates cfg and builds the backend. No network traffic
// happens here; the session is established on first use.
func NewRemoteStore(cfg RemoteConfig, transport Transport, logger *logrus.Logger) (*RemoteStore, error) {
	if cfg.Endpoint == "" || cfg.KeyID == "" || cfg.Key == "" {
		return nil, fmt.Errorf("remote endpoint and credentials are required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("remote bucket is required")
	}
	prefix, err := storagepath.Parse(cfg.Prefix)
	if err != nil {
		return nil, fmt.Errorf("remote prefix: %w", err)
	}
	partSize := cfg.PartSize
	if partSize <= 0 {
		partSize = defaultPartSize
	}

	return &RemoteStore{
		transport: transport,
		session:   newRemoteSession(transport, cfg.Endpoint, cfg.KeyID, cfg.Key, logger),
		logger:    logger,
		bucket:    cfg.Bucket,
		prefix:    prefix.AsPrefix(),
		partSize:  partSize,
		retry:     cfg.Retry.withDefaults(),
	}, nil
}

// key flattens a storage path into the object key, under the configured
// prefix.
func (r *RemoteStore) key(path storagepath.Path) string {
	return r.prefix.Join(path.AsFile()).String()
}

// keyPrefix renders a listing prefix; directory-like paths keep their
// trailing separator so the server-side filter stays narrow.
func (r *RemoteStore) keyPrefix(prefix storagepath.Path) string {
	return r.prefix.Join(prefix).String()
}

// pathFromKey converts an object key back to a path relative to the
// configured prefix; ok is false for keys outside it.
func (r *RemoteStore) pathFromKey(key string) (storagepath.Path, bool) {
	parsed, err := storagepath.Parse(key)
	if err != nil || !parsed.HasPrefix(r.prefix) {
		return storagepath.Path{}, false
	}
	segs := parsed.Segments()[len(r.prefix.Segments()):]
	p := storagepath.Root()
	for _, seg := range segs {
		p = p.Join(storagepath.MustParse(seg))
	}
	if p.IsRoot() {
		return storagepath.Path{}, false
	}
	return p, true
}

// transportError classifies a transport-level failure. Context cancellation
// passes through; everything else (timeouts, resets, refused connections) is
// transient by definition of the shared retry policy.
func transportError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewError(ErrTransient, op, "", err)
}

// toTaxonomy maps a protocol error response onto the shared taxonomy.
func (e *b2ErrorResponse) toTaxonomy(op, key string) error {
	err := fmt.Errorf("%s (%d %s)", e.Message, e.Status, e.Code)
	switch {
	case e.Status == http.StatusNotFound:
		return NewError(ErrNotFound, op, key, err)
	case e.Status == http.StatusBadRequest && e.Code == "invalid_bucket_id":
		return NewError(ErrNotFound, op, key, err)
	case e.Status == http.StatusUnauthorized, e.Status == http.StatusForbidden:
		return NewError(ErrPermissionDenied, op, key, err)
	case e.Status == http.StatusTooManyRequests, e.Status == http.StatusRequestTimeout:
		return NewError(ErrTransient, op, key, err)
	case e.Status >= 500:
		return NewError(ErrTransient, op, key, err)
	case e.Status >= 400:
		return NewError(ErrFatal, op, key, err)
	default:
		return NewError(ErrFatal, op, key, err)
	}
}

// apiCall performs one JSON API request against the session's API host. A
// token rejected as expired triggers a single-flight refresh and exactly one
// replay of the original request; transient retry is layered on top by the
// callers so each attempt re-validates token freshness first.
func (r *RemoteStore) apiCall(ctx context.Context, op string, reqBody, out interface{}) error {
	refreshed := false
	for {
		sess, err := r.session.get(ctx)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(reqBody)
		if err != nil {
			return NewError(ErrFatal, op, "", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.APIURL+b2APIPrefix+op, bytes.NewReader(payload))
		if err != nil {
			return NewError(ErrFatal, op, "", err)
		}
		req.Header.Set("Authorization", sess.Token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.transport.Do(req)
		if err != nil {
			return transportError(op, err)
		}

		if resp.StatusCode == http.StatusOK {
			var decodeErr error
			if out != nil {
				decodeErr = json.NewDecoder(resp.Body).Decode(out)
			}
			resp.Body.Close()
			if decodeErr != nil {
				return NewError(ErrFatal, op, "", fmt.Errorf("malformed response: %w", decodeErr))
			}
			return nil
		}

		b2err := decodeB2Error(resp)
		resp.Body.Close()

		if b2err.isAuthExpired() && !refreshed {
			r.session.invalidate(sess.Token)
			refreshed = true
			continue
		}
		return b2err.toTaxonomy(op, "")
	}
}

// bucketIDFor resolves and caches the bucket's identifier.
func (r *RemoteStore) bucketIDFor(ctx context.Context) (string, error) {
	r.mu.Lock()
	id := r.bucketID
	r.mu.Unlock()
	if id != "" {
		return id, nil
	}

	sess, err := r.session.get(ctx)
	if err != nil {
		return "", err
	}

	var out b2ListBucketsResponse
	err = withRetry(ctx, r.logger, r.retry, "b2_list_buckets", func() error {
		return r.apiCall(ctx, "b2_list_buckets", &b2ListBucketsRequest{
			AccountID:  sess.AccountID,
			BucketName: r.bucket,
		}, &out)
	})
	if err != nil {
		return "", err
	}
	for _, b := range out.Buckets {
		if b.BucketName == r.bucket {
			r.mu.Lock()
			r.bucketID = b.BucketID
			r.mu.Unlock()
			return b.BucketID, nil
		}
	}
	return "", NewError(ErrFatal, "b2_list_buckets", r.bucket, fmt.Errorf("bucket does not exist"))
}

func metadataFromB2File(path storagepath.Path, f b2File) models.FileMetadata {
	meta := models.FileMetadata{
		Path: path,
		Size: f.ContentLength,
	}
	if f.UploadTimestamp > 0 {
		meta.ModTime = time.UnixMilli(f.UploadTimestamp).UTC()
	}
	if f.ContentSha1 != "" && f.ContentSha1 != "none" {
		meta.SHA1 = f.ContentSha1
	}
	return meta
}

// lookup fetches the file record for an exact key, or ErrNotFound.
func (r *RemoteStore) lookup(ctx context.Context, key string) (*b2File, error) {
	bucketID, err := r.bucketIDFor(ctx)
	if err != nil {
		return nil, err
	}

	var out b2ListFileNamesResponse
	err = withRetry(ctx, r.logger, r.retry, "b2_list_file_names", func() error {
		return r.apiCall(ctx, "b2_list_file_names", &b2ListFileNamesRequest{
			BucketID:      bucketID,
			StartFileName: key,
			Prefix:        key,
			MaxFileCount:  1,
		}, &out)
	})
	if err != nil {
		return nil, err
	}
	if len(out.Files) == 0 || out.Files[0].FileName != key || out.Files[0].Action != "upload" {
		return nil, NewError(ErrNotFound, "stat", key, nil)
	}
	f := out.Files[0]
	return &f, nil
}

func (r *RemoteStore) Stat(ctx context.Context, path storagepath.Path) (models.FileMetadata, error) {
	if path.IsDir() {
		return models.FileMetadata{}, NewError(ErrInvalidPath, "stat", path.String(), fmt.Errorf("object paths cannot be directory-like"))
	}
	f, err := r.lookup(ctx, r.key(path))
	if err != nil {
		return models.FileMetadata{}, err
	}
	return metadataFromB2File(path, *f), nil
}

func (r *RemoteStore) List(ctx context.Context, prefix storagepath.Path) EntryIterator {
	return newDeferredIterator(func(ctx context.Context) ([]models.FileMetadata, error) {
		bucketID, err := r.bucketIDFor(ctx)
		if err != nil {
			return nil, err
		}
		keyPrefix := r.keyPrefix(prefix)
		wanted := r.prefix.Join(prefix)

		// Pages are followed to exhaustion and sorted before the iterator
		// yields, so ordering holds even if the server pages out of order.
		var entries []models.FileMetadata
		start := ""
		for {
			var out b2ListFileNamesResponse
			err := withRetry(ctx, r.logger, r.retry, "b2_list_file_names", func() error {
				out = b2ListFileNamesResponse{}
				return r.apiCall(ctx, "b2_list_file_names", &b2ListFileNamesRequest{
					BucketID:      bucketID,
					StartFileName: start,
					Prefix:        keyPrefix,
					MaxFileCount:  listPageSize,
				}, &out)
			})
			if err != nil {
				return nil, err
			}

			for _, f := range out.Files {
				if f.Action != "upload" {
					continue
				}
				full, err := storagepath.Parse(f.FileName)
				if err != nil || !full.HasPrefix(wanted) {
					continue
				}
				p, ok := r.pathFromKey(f.FileName)
				if !ok {
					continue
				}
				entries = append(entries, metadataFromB2File(p, f))
			}

			if out.NextFileName == nil || *out.NextFileName == "" {
				break
			}
			start = *out.NextFileName
		}

		if len(entries) > listSortWarnAt {
			r.logger.WithFields(logrus.Fields{
				"prefix":  prefix.String(),
				"entries": len(entries),
			}).Debug("Large listing buffered for sorting")
		}
		return entries, nil
	})
}

func (r *RemoteStore) Read(ctx context.Context, path storagepath.Path) (io.ReadCloser, error) {
	if path.IsDir() {
		return nil, NewError(ErrInvalidPath, "read", path.String(), fmt.Errorf("object paths cannot be directory-like"))
	}
	key := r.key(path)

	var body io.ReadCloser
	err := withRetry(ctx, r.logger, r.retry, "download_file", func() error {
		var err error
		body, err = r.openDownload(ctx, key, 0)
		return err
	})
	if err != nil {
		return nil, err
	}

	return stream.NewCancelReader(ctx, &resumingReader{
		store: r,
		ctx:   ctx,
		key:   key,
		body:  body,
	}), nil
}

// openDownload starts a streaming download at offset, handling token refresh
// the same way apiCall does.
func (r *RemoteStore) openDownload(ctx context.Context, key string, offset int64) (io.ReadCloser, error) {
	refreshed := false
	for {
		sess, err := r.session.get(ctx)
		if err != nil {
			return nil, err
		}

		url := sess.DownloadURL + "/file/" + r.bucket + "/" + encodeFileName(key)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, NewError(ErrFatal, "download_file", key, err)
		}
		req.Header.Set("Authorization", sess.Token)
		if offset > 0 {
			req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
		}

		resp, err := r.transport.Do(req)
		if err != nil {
			return nil, transportError("download_file", err)
		}
		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusPartialContent {
			return resp.Body, nil
		}

		b2err := decodeB2Error(resp)
		resp.Body.Close()
		if b2err.isAuthExpired() && !refreshed {
			r.session.invalidate(sess.Token)
			refreshed = true
			continue
		}
		return nil, b2err.toTaxonomy("download_file", key)
	}
}

// resumingReader resumes an interrupted download from the last acknowledged
// offset via ranged requests, a bounded number of times.
type resumingReader struct {
	store   *RemoteStore
	ctx     context.Context
	key     string
	body    io.ReadCloser
	offset  int64
	resumes int
}

func (d *resumingReader) Read(p []byte) (int, error) {
	for {
		n, err := d.body.Read(p)
		d.offset += int64(n)
		if err == nil || err == io.EOF {
			return n, err
		}
		if d.ctx.Err() != nil {
			return n, d.ctx.Err()
		}
		if d.resumes >= maxResumes {
			return n, NewError(ErrTransient, "download_file", d.key,
				fmt.Errorf("stream failed after %d resumes: %w", d.resumes, err))
		}
		d.resumes++
		d.body.Close()

		d.store.logger.WithFields(logrus.Fields{
			"key":    d.key,
			"offset": d.offset,
			"resume": d.resumes,
		}).Debug("Resuming interrupted download")

		body, openErr := d.store.openDownload(d.ctx, d.key, d.offset)
		if openErr != nil {
			return n, openErr
		}
		d.body = body
		if n > 0 {
			return n, nil
		}
	}
}

func (d *resumingReader) Close() error { return d.body.Close() }

func (r *RemoteStore) Write(ctx context.Context, path storagepath.Path, data io.Reader) (models.FileMetadata, error) {
	if path.IsDir() {
		return models.FileMetadata{}, NewError(ErrInvalidPath, "write", path.String(), fmt.Errorf("object paths cannot be directory-like"))
	}
	key := r.key(path)

	// Buffer one part plus a byte: if the stream ends inside the buffer the
	// write is a single-request upload, otherwise it streams as parts.
	hashed := stream.NewHashingReader(stream.ContextReader(ctx, data))
	head := make([]byte, r.partSize+1)
	n, err := io.ReadFull(hashed, head)
	switch err {
	case nil:
		return r.writeLarge(ctx, path, key, head[:r.partSize], head[r.partSize:n], hashed)
	case io.ErrUnexpectedEOF, io.EOF:
		return r.writeSmall(ctx, path, key, head[:n])
	default:
		return models.FileMetadata{}, Classify("write", err)
	}
}

// uploadTargetFor returns the cached upload URL for the bucket, fetching one
// if needed. Upload URLs expire server-side; dropTarget discards a bad one.
func (r *RemoteStore) uploadTargetFor(ctx context.Context) (*b2GetUploadURLResponse, error) {
	r.mu.Lock()
	target := r.uploadTarget
	r.mu.Unlock()
	if target != nil {
		return target, nil
	}

	bucketID, err := r.bucketIDFor(ctx)
	if err != nil {
		return nil, err
	}
	var out b2GetUploadURLResponse
	if err := r.apiCall(ctx, "b2_get_upload_url", &b2GetUploadURLRequest{BucketID: bucketID}, &out); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.uploadTarget = &out
	r.mu.Unlock()
	return &out, nil
}

func (r *RemoteStore) dropTarget(target *b2GetUploadURLResponse) {
	r.mu.Lock()
	if r.uploadTarget == target {
		r.uploadTarget = nil
	}
	r.mu.Unlock()
}

// writeSmall uploads content as one request. The buffered body makes every
// retry able to re-send the identical bytes.
func (r *RemoteStore) writeSmall(ctx context.Context, path storagepath.Path, key string, content []byte) (models.FileMetadata, error) {
	localSHA1 := stream.SHA1Hex(content)

	var uploaded b2File
	err := withRetry(ctx, r.logger, r.retry, "b2_upload_file", func() error {
		target, err := r.uploadTargetFor(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.UploadURL, bytes.NewReader(content))
		if err != nil {
			return NewError(ErrFatal, "b2_upload_file", key, err)
		}
		req.Header.Set("Authorization", target.AuthorizationToken)
		req.Header.Set(headerFileName, encodeFileName(key))
		req.Header.Set("Content-Type", contentTypeAuto)
		req.Header.Set(headerContentSHA1, localSHA1)
		req.ContentLength = int64(len(content))

		resp, err := r.transport.Do(req)
		if err != nil {
			r.dropTarget(target)
			return transportError("b2_upload_file", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b2err := decodeB2Error(resp)
			// An expired upload token means this URL is done, not the
			// session: fetch a fresh target and retry.
			r.dropTarget(target)
			if b2err.isAuthExpired() || b2err.Status == http.StatusServiceUnavailable {
				return NewError(ErrTransient, "b2_upload_file", key, fmt.Errorf("upload target rejected (%d %s)", b2err.Status, b2err.Code))
			}
			return b2err.toTaxonomy("b2_upload_file", key)
		}

		uploaded = b2File{}
		if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
			return NewError(ErrFatal, "b2_upload_file", key, fmt.Errorf("malformed response: %w", err))
		}
		return nil
	})
	if err != nil {
		return models.FileMetadata{}, err
	}

	if uploaded.ContentSha1 != localSHA1 {
		return models.FileMetadata{}, NewError(ErrIntegrity, "b2_upload_file", key,
			fmt.Errorf("server hash %q does not match local %q", uploaded.ContentSha1, localSHA1))
	}

	meta := metadataFromB2File(path, uploaded)
	meta.Size = int64(len(content))
	meta.SHA1 = localSHA1
	return meta, nil
}

func (r *RemoteStore) Delete(ctx context.Context, path storagepath.Path) error {
	if path.IsDir() {
		return NewError(ErrInvalidPath, "delete", path.String(), fmt.Errorf("object paths cannot be directory-like"))
	}
	key := r.key(path)
	bucketID, err := r.bucketIDFor(ctx)
	if err != nil {
		return err
	}

	// Deleting removes every version of the file, matching local semantics
	// where a path has exactly one content.
	var versions []b2File
	startName, startID := key, ""
	for {
		var out b2ListFileVersionsResponse
		err := withRetry(ctx, r.logger, r.retry, "b2_list_file_versions", func() error {
			out = b2ListFileVersionsResponse{}
			return r.apiCall(ctx, "b2_list_file_versions", &b2ListFileVersionsRequest{
				BucketID:      bucketID,
				StartFileName: startName,
				StartFileID:   startID,
				Prefix:        key,
				MaxFileCount:  listPageSize,
			}, &out)
		})
		if err != nil {
			return err
		}

		done := len(out.Files) == 0
		for _, f := range out.Files {
			if f.FileName != key {
				done = true
				break
			}
			versions = append(versions, f)
		}
		if done || out.NextFileName == nil || *out.NextFileName != key {
			break
		}
		startName = *out.NextFileName
		if out.NextFileID != nil {
			startID = *out.NextFileID
		}
	}

	if len(versions) == 0 {
		return NewError(ErrNotFound, "delete", key, nil)
	}

	for _, v := range versions {
		v := v
		err := withRetry(ctx, r.logger, r.retry, "b2_delete_file_version", func() error {
			return r.apiCall(ctx, "b2_delete_file_version", &b2DeleteFileVersionRequest{
				FileName: v.FileName,
				FileID:   v.FileID,
			}, nil)
		})
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func (r *RemoteStore) Copy(ctx context.Context, src, dst storagepath.Path) (models.FileMetadata, error) {
	if src.IsDir() || dst.IsDir() {
		return models.FileMetadata{}, NewError(ErrInvalidPath, "copy", src.String(), fmt.Errorf("object paths cannot be directory-like"))
	}
	source, err := r.lookup(ctx, r.key(src))
	if err != nil {
		return models.FileMetadata{}, err
	}

	dstKey := r.key(dst)
	var copied b2File
	err = withRetry(ctx, r.logger, r.retry, "b2_copy_file", func() error {
		copied = b2File{}
		return r.apiCall(ctx, "b2_copy_file", &b2CopyFileRequest{
			SourceFileID: source.FileID,
			FileName:     dstKey,
		}, &copied)
	})
	if err != nil {
		return models.FileMetadata{}, err
	}
	return metadataFromB2File(dst, copied), nil
}

// SweepStale cancels unfinished large-file uploads older than olderThan,
// releasing their server-side resources. Run from the maintenance scheduler.
func (r *RemoteStore) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	bucketID, err := r.bucketIDFor(ctx)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-olderThan)

	cancelled := 0
	start := ""
	for {
		var out b2ListUnfinishedLargeFilesResponse
		err := withRetry(ctx, r.logger, r.retry, "b2_list_unfinished_large_files", func() error {
			out = b2ListUnfinishedLargeFilesResponse{}
			return r.apiCall(ctx, "b2_list_unfinished_large_files", &b2ListUnfinishedLargeFilesRequest{
				BucketID:     bucketID,
				StartFileID:  start,
				MaxFileCount: listPageSize,
			}, &out)
		})
		if err != nil {
			return cancelled, err
		}

		for _, f := range out.Files {
			if time.UnixMilli(f.UploadTimestamp).After(cutoff) {
				continue
			}
			err := r.apiCall(ctx, "b2_cancel_large_file", &b2CancelLargeFileRequest{FileID: f.FileID}, nil)
			if err != nil {
				r.logger.WithError(err).WithField("fileId", f.FileID).Warn("Failed to cancel stale upload")
				continue
			}
			cancelled++
		}

		if out.NextFileID == nil || *out.NextFileID == "" {
			break
		}
		start = *out.NextFileID
	}

	if cancelled > 0 {
		r.logger.WithField("cancelled", cancelled).Info("Cancelled stale unfinished uploads")
	}
	return cancelled, nil
}

var _ Provider = (*RemoteStore)(nil)
