package storage

import (
	"net/http"
	"net/url"
	"strings"
)

// Wire types for the B2 v2 object storage API. The remote backend owns all
// status interpretation; the transport collaborator only moves bytes.

const (
	b2APIPrefix = "/b2api/v2/"

	contentTypeAuto = "b2/x-auto"

	headerFileName    = "X-Bz-File-Name"
	headerContentSHA1 = "X-Bz-Content-Sha1"
	headerPartNumber  = "X-Bz-Part-Number"
)

// Transport performs one authenticated HTTP request and returns the raw
// status and body stream. It does not retry and does not interpret status
// semantics.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

type b2AuthorizeAccountResponse struct {
	AccountID               string `json:"accountId"`
	AuthorizationToken      string `json:"authorizationToken"`
	APIURL                  string `json:"apiUrl"`
	DownloadURL             string `json:"downloadUrl"`
	RecommendedPartSize     int64  `json:"recommendedPartSize"`
	AbsoluteMinimumPartSize int64  `json:"absoluteMinimumPartSize"`
}

type b2Bucket struct {
	BucketID   string `json:"bucketId"`
	BucketName string `json:"bucketName"`
}

type b2ListBucketsRequest struct {
	AccountID  string `json:"accountId"`
	BucketName string `json:"bucketName,omitempty"`
}

type b2ListBucketsResponse struct {
	Buckets []b2Bucket `json:"buckets"`
}

// b2File describes one file version as reported by the listing, upload and
// copy calls.
type b2File struct {
	FileID          string `json:"fileId"`
	FileName        string `json:"fileName"`
	Action          string `json:"action"`
	ContentLength   int64  `json:"contentLength"`
	ContentSha1     string `json:"contentSha1"`
	UploadTimestamp int64  `json:"uploadTimestamp"`
}

type b2ListFileNamesRequest struct {
	BucketID      string `json:"bucketId"`
	StartFileName string `json:"startFileName,omitempty"`
	MaxFileCount  int    `json:"maxFileCount,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
}

type b2ListFileNamesResponse struct {
	Files        []b2File `json:"files"`
	NextFileName *string  `json:"nextFileName"`
}

type b2ListFileVersionsRequest struct {
	BucketID      string `json:"bucketId"`
	StartFileName string `json:"startFileName,omitempty"`
	StartFileID   string `json:"startFileId,omitempty"`
	MaxFileCount  int    `json:"maxFileCount,omitempty"`
	Prefix        string `json:"prefix,omitempty"`
}

type b2ListFileVersionsResponse struct {
	Files        []b2File `json:"files"`
	NextFileName *string  `json:"nextFileName"`
	NextFileID   *string  `json:"nextFileId"`
}

type b2GetUploadURLRequest struct {
	BucketID string `json:"bucketId"`
}

type b2GetUploadURLResponse struct {
	BucketID           string `json:"bucketId"`
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

type b2StartLargeFileRequest struct {
	BucketID    string `json:"bucketId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type b2GetUploadPartURLRequest struct {
	FileID string `json:"fileId"`
}

type b2GetUploadPartURLResponse struct {
	FileID             string `json:"fileId"`
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

type b2UploadPartResponse struct {
	FileID      string `json:"fileId"`
	PartNumber  int    `json:"partNumber"`
	ContentSha1 string `json:"contentSha1"`
}

type b2FinishLargeFileRequest struct {
	FileID        string   `json:"fileId"`
	PartSha1Array []string `json:"partSha1Array"`
}

type b2CancelLargeFileRequest struct {
	FileID string `json:"fileId"`
}

type b2DeleteFileVersionRequest struct {
	FileName string `json:"fileName"`
	FileID   string `json:"fileId"`
}

type b2CopyFileRequest struct {
	SourceFileID string `json:"sourceFileId"`
	FileName     string `json:"fileName"`
}

type b2ListUnfinishedLargeFilesRequest struct {
	BucketID     string `json:"bucketId"`
	StartFileID  string `json:"startFileId,omitempty"`
	MaxFileCount int    `json:"maxFileCount,omitempty"`
}

type b2ListUnfinishedLargeFilesResponse struct {
	Files      []b2File `json:"files"`
	NextFileID *string  `json:"nextFileId"`
}

type b2ErrorResponse struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// isAuthExpired reports the two statuses the protocol uses for a stale
// session token; these trigger one single-flight refresh, never a plain
// retry.
func (e *b2ErrorResponse) isAuthExpired() bool {
	return e.Status == http.StatusUnauthorized &&
		(e.Code == "expired_auth_token" || e.Code == "bad_auth_token")
}

// encodeFileName percent-encodes a flat object key for use in a URL path or
// the file-name upload header, preserving the separator.
func encodeFileName(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return strings.Join(segments, "/")
}
