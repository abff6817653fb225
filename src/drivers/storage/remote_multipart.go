package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/FractalBrew/file-store/src/models"
	"github.com/FractalBrew/file-store/src/storagepath"
	"github.com/FractalBrew/file-store/src/stream"
)

// abortTimeout bounds the best-effort cancel call sent after a failed
// multipart upload. The abort runs on its own context because the caller's
// may already be dead.
const abortTimeout = 30 * time.Second

// largeUpload tracks one in-progress multipart upload: the server-side file
// identifier, the part upload target, and the digests of parts confirmed so
// far in order.
type largeUpload struct {
	store  *RemoteStore
	key    string
	fileID string

	partTarget *b2GetUploadPartURLResponse
	partSHA1s  []string
}

// writeLarge streams content that exceeded one part as a multipart upload.
// firstPart is the already-buffered first part; extra holds the bytes read
// past the part boundary while probing the stream length, and rest is the
// unread remainder (already hash-wrapped). Parts upload sequentially so at
// most one part is resident at a time. Any failure cancels the upload
// server-side; the destination is never observable half-written.
func (r *RemoteStore) writeLarge(ctx context.Context, path storagepath.Path, key string, firstPart, extra []byte, rest *stream.HashingReader) (models.FileMetadata, error) {
	bucketID, err := r.bucketIDFor(ctx)
	if err != nil {
		return models.FileMetadata{}, err
	}

	var started b2File
	err = withRetry(ctx, r.logger, r.retry, "b2_start_large_file", func() error {
		started = b2File{}
		return r.apiCall(ctx, "b2_start_large_file", &b2StartLargeFileRequest{
			BucketID:    bucketID,
			FileName:    key,
			ContentType: contentTypeAuto,
		}, &started)
	})
	if err != nil {
		return models.FileMetadata{}, err
	}

	up := &largeUpload{store: r, key: key, fileID: started.FileID}

	if err := up.uploadPart(ctx, 1, firstPart); err != nil {
		up.abort()
		return models.FileMetadata{}, err
	}

	splitter := stream.NewPartSplitter(io.MultiReader(bytes.NewReader(extra), rest), int(r.partSize))
	for partNumber := 2; ; partNumber++ {
		part, err := splitter.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			up.abort()
			return models.FileMetadata{}, Classify("write", err)
		}
		if err := up.uploadPart(ctx, partNumber, part); err != nil {
			up.abort()
			return models.FileMetadata{}, err
		}
	}

	var finished b2File
	err = withRetry(ctx, r.logger, r.retry, "b2_finish_large_file", func() error {
		finished = b2File{}
		return r.apiCall(ctx, "b2_finish_large_file", &b2FinishLargeFileRequest{
			FileID:        up.fileID,
			PartSha1Array: up.partSHA1s,
		}, &finished)
	})
	if err != nil {
		up.abort()
		return models.FileMetadata{}, err
	}

	r.logger.WithFields(logrus.Fields{
		"key":   key,
		"parts": len(up.partSHA1s),
		"size":  rest.Count(),
	}).Debug("Finished multipart upload")

	meta := metadataFromB2File(path, finished)
	meta.Size = rest.Count()
	meta.SHA1 = rest.Sum()
	return meta, nil
}

// partTargetFor returns the cached part upload target, fetching one if
// needed. Like whole-file upload URLs, part URLs expire independently of the
// session token.
func (u *largeUpload) partTargetFor(ctx context.Context) (*b2GetUploadPartURLResponse, error) {
	if u.partTarget != nil {
		return u.partTarget, nil
	}
	var out b2GetUploadPartURLResponse
	err := u.store.apiCall(ctx, "b2_get_upload_part_url", &b2GetUploadPartURLRequest{FileID: u.fileID}, &out)
	if err != nil {
		return nil, err
	}
	u.partTarget = &out
	return &out, nil
}

// uploadPart sends one part with bounded retry. The part buffer is re-sent
// verbatim on each attempt; a duplicate of an already-accepted part number
// simply replaces it server-side, so retrying after an ambiguous failure is
// safe. The digest is recorded once, after the part is confirmed.
func (u *largeUpload) uploadPart(ctx context.Context, partNumber int, content []byte) error {
	partSHA1 := stream.SHA1Hex(content)

	err := withRetry(ctx, u.store.logger, u.store.retry, "b2_upload_part", func() error {
		target, err := u.partTargetFor(ctx)
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.UploadURL, bytes.NewReader(content))
		if err != nil {
			return NewError(ErrFatal, "b2_upload_part", u.key, err)
		}
		req.Header.Set("Authorization", target.AuthorizationToken)
		req.Header.Set(headerPartNumber, strconv.Itoa(partNumber))
		req.Header.Set(headerContentSHA1, partSHA1)
		req.ContentLength = int64(len(content))

		resp, err := u.store.transport.Do(req)
		if err != nil {
			u.partTarget = nil
			return transportError("b2_upload_part", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b2err := decodeB2Error(resp)
			u.partTarget = nil
			if b2err.isAuthExpired() || b2err.Status == http.StatusServiceUnavailable {
				return NewError(ErrTransient, "b2_upload_part", u.key,
					fmt.Errorf("part target rejected (%d %s)", b2err.Status, b2err.Code))
			}
			return b2err.toTaxonomy("b2_upload_part", u.key)
		}

		var confirmed b2UploadPartResponse
		if err := json.NewDecoder(resp.Body).Decode(&confirmed); err != nil {
			return NewError(ErrFatal, "b2_upload_part", u.key, fmt.Errorf("malformed response: %w", err))
		}
		if confirmed.ContentSha1 != partSHA1 {
			return NewError(ErrIntegrity, "b2_upload_part", u.key,
				fmt.Errorf("part %d: server hash %q does not match local %q", partNumber, confirmed.ContentSha1, partSHA1))
		}
		return nil
	})
	if err != nil {
		return err
	}

	u.partSHA1s = append(u.partSHA1s, partSHA1)
	return nil
}

// abort cancels the upload server-side so its reserved parts are released.
// Best effort: the write already failed, and an unreachable server leaves the
// upload for the maintenance sweep.
func (u *largeUpload) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), abortTimeout)
	defer cancel()

	err := u.store.apiCall(ctx, "b2_cancel_large_file", &b2CancelLargeFileRequest{FileID: u.fileID}, nil)
	if err != nil {
		u.store.logger.WithError(err).WithField("key", u.key).Warn("Failed to cancel multipart upload")
		return
	}
	u.store.logger.WithField("key", u.key).Debug("Cancelled multipart upload")
}
