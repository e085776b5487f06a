package authaudit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iland112/pkd-ingest/core"
)

func TestGateIsPublic(t *testing.T) {
	g, err := NewGate([]byte("test-secret-test-secret"), []string{`^/api/health(/.*)?$`, `^/api/auth/login$`})
	require.NoError(t, err)

	assert.True(t, g.IsPublic("/api/health"))
	assert.True(t, g.IsPublic("/api/health/database"))
	assert.True(t, g.IsPublic("/api/auth/login"))
	assert.False(t, g.IsPublic("/api/upload/ldif"))
}

func TestGateIssueAndAuthenticateRoundTrip(t *testing.T) {
	g, err := NewGate([]byte("test-secret-test-secret"), nil)
	require.NoError(t, err)

	token, err := g.IssueToken(core.User{ID: "u1", Username: "alice", Roles: []string{"operator"}}, time.Hour)
	require.NoError(t, err)

	claims, err := g.Authenticate("Bearer " + token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, "u1", claims.UserID)
}

func TestGateAuthenticateRejectsMissingHeader(t *testing.T) {
	g, err := NewGate([]byte("test-secret-test-secret"), nil)
	require.NoError(t, err)
	_, err = g.Authenticate("")
	assert.Error(t, err)
}

func TestGateAuthenticateRejectsExpiredToken(t *testing.T) {
	g, err := NewGate([]byte("test-secret-test-secret"), nil)
	require.NoError(t, err)
	token, err := g.IssueToken(core.User{ID: "u1", Username: "alice"}, -time.Minute)
	require.NoError(t, err)

	_, err = g.Authenticate("Bearer " + token)
	assert.Error(t, err)
}

func TestNewGateRequiresSecret(t *testing.T) {
	_, err := NewGate(nil, nil)
	assert.Error(t, err)
}
