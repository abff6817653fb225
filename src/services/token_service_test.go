package services

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTServiceIssueAndValidate(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc, err := NewJWTService("0123456789abcdef0123456789abcdef", time.Hour, logger)
	require.NoError(t, err)

	token, err := svc.Issue("client-1")
	require.NoError(t, err)

	subject, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "client-1", subject)
}

func TestJWTServiceRejectsExpiredToken(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	svc, err := NewJWTService("0123456789abcdef0123456789abcdef", -time.Minute, logger)
	require.NoError(t, err)

	// ttl <= 0 falls back to an hour; build an expired service explicitly.
	svc.ttl = -time.Minute
	token, err := svc.Issue("client-1")
	require.NoError(t, err)

	_, err = svc.Validate(token)
	assert.Error(t, err)
}

func TestJWTServiceRejectsForeignSignature(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	issuer, err := NewJWTService("0123456789abcdef0123456789abcdef", time.Hour, logger)
	require.NoError(t, err)
	verifier, err := NewJWTService("fedcba9876543210fedcba9876543210", time.Hour, logger)
	require.NoError(t, err)

	token, err := issuer.Issue("client-1")
	require.NoError(t, err)

	_, err = verifier.Validate(token)
	assert.Error(t, err)
}

func TestJWTServiceRequiresSecret(t *testing.T) {
	_, err := NewJWTService("", time.Hour, logrus.New())
	assert.Error(t, err)
}
