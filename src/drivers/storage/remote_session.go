package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// session is one authorized connection state: the account token, the API and
// download hosts it is valid for, and the server's part-size guidance.
// Immutable once created; a refresh replaces the whole value.
type session struct {
	AccountID           string
	Token               string
	APIURL              string
	DownloadURL         string
	RecommendedPartSize int64
}

// remoteSession owns the credential lifecycle for one RemoteStore: created
// lazily on the first authenticated operation, refreshed when the server
// rejects the token, dropped with the backend. Refresh is single-flight so
// N concurrent operations hitting an expired token share one authorization
// request and all observe its result.
type remoteSession struct {
	transport Transport
	endpoint  string
	keyID     string
	key       string
	logger    *logrus.Logger

	mu      sync.Mutex
	current *session

	group singleflight.Group
}

func newRemoteSession(transport Transport, endpoint, keyID, key string, logger *logrus.Logger) *remoteSession {
	return &remoteSession{
		transport: transport,
		endpoint:  endpoint,
		keyID:     keyID,
		key:       key,
		logger:    logger,
	}
}

// get returns the live session, authorizing if none is held. Concurrent
// callers needing authorization share one in-flight request.
func (s *remoteSession) get(ctx context.Context) (*session, error) {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		return cur, nil
	}

	v, err, _ := s.group.Do("authorize", func() (interface{}, error) {
		// A refresh may have completed while we queued behind the flight.
		s.mu.Lock()
		if s.current != nil {
			cur := s.current
			s.mu.Unlock()
			return cur, nil
		}
		s.mu.Unlock()

		sess, err := s.authorize(ctx)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.current = sess
		s.mu.Unlock()
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session), nil
}

// invalidate drops the session if token still identifies it. The guard stops
// a late failure from discarding a token someone else already refreshed.
func (s *remoteSession) invalidate(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil && s.current.Token == token {
		s.current = nil
		s.logger.Debug("Invalidated remote session token")
	}
}

func (s *remoteSession) authorize(ctx context.Context) (*session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+b2APIPrefix+"b2_authorize_account", nil)
	if err != nil {
		return nil, NewError(ErrFatal, "b2_authorize_account", "", err)
	}
	secret := base64.StdEncoding.EncodeToString([]byte(s.keyID + ":" + s.key))
	req.Header.Set("Authorization", "Basic "+secret)

	resp, err := s.transport.Do(req)
	if err != nil {
		return nil, transportError("b2_authorize_account", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b2err := decodeB2Error(resp)
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, NewError(ErrPermissionDenied, "b2_authorize_account", "",
				fmt.Errorf("application key was not recognized: %s", b2err.Message))
		}
		return nil, b2err.toTaxonomy("b2_authorize_account", "")
	}

	var auth b2AuthorizeAccountResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, NewError(ErrFatal, "b2_authorize_account", "", fmt.Errorf("malformed response: %w", err))
	}

	s.logger.WithField("apiUrl", auth.APIURL).Debug("Authorized remote session")

	return &session{
		AccountID:           auth.AccountID,
		Token:               auth.AuthorizationToken,
		APIURL:              auth.APIURL,
		DownloadURL:         auth.DownloadURL,
		RecommendedPartSize: auth.RecommendedPartSize,
	}, nil
}

// decodeB2Error parses an error body, tolerating malformed payloads.
func decodeB2Error(resp *http.Response) *b2ErrorResponse {
	b2err := &b2ErrorResponse{Status: resp.StatusCode}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return b2err
	}
	if err := json.Unmarshal(body, b2err); err != nil {
		b2err.Code = "unknown"
		b2err.Message = string(body)
	}
	if b2err.Status == 0 {
		b2err.Status = resp.StatusCode
	}
	return b2err
}
