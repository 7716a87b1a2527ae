package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/approval-core/internal/auth"
	"github.com/spec-kit/approval-core/internal/config"
	"github.com/spec-kit/approval-core/internal/domain"
)

func testConfig() (*config.Config, error) {
	return &config.Config{Auth: config.AuthConfig{JWTSecret: "cli-secret", AccessTokenTTLMinutes: 30}}, nil
}

func TestIssuePrintsVerifiableCredential(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd(&out, testConfig)
	cmd.SetArgs([]string{"issue", "user-7", "--role", "supervisor"})
	require.NoError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "expires "))

	claims, err := auth.NewTokenManager("cli-secret", 30).ParseToken(lines[0])
	require.NoError(t, err)
	assert.Equal(t, "user-7", claims.UserID)
	assert.Equal(t, domain.RoleSupervisor, claims.Role)
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd(&out, testConfig)
	cmd.SetArgs([]string{"issue", "user-7", "--role", "token_approver"})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
	assert.Empty(t, out.String())
}
