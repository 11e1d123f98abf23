package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/telesales-timesheet/internal/auth"
)

func TestIssueAndValidate(t *testing.T) {
	tm := auth.NewTokenManager("s3cret", "tst")
	id := auth.Identity{ID: "agent-1", Name: "Léa Martin", Email: "lea@example.com", Role: auth.RoleAgent}

	token, exp, err := tm.Issue(id, time.Hour)
	require.NoError(t, err)
	assert.True(t, exp.After(time.Now()))

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, id, claims.Identity())
	assert.Equal(t, "tst", claims.Issuer)
}

func TestValidateRejects(t *testing.T) {
	tm := auth.NewTokenManager("s3cret", "tst")
	id := auth.Identity{ID: "agent-1", Role: auth.RoleAgent}

	expired, _, err := tm.Issue(id, -time.Minute)
	require.NoError(t, err)
	_, err = tm.Validate(expired)
	assert.ErrorIs(t, err, auth.ErrExpiredToken)

	other := auth.NewTokenManager("different", "tst")
	forged, _, err := other.Issue(id, time.Hour)
	require.NoError(t, err)
	_, err = tm.Validate(forged)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)

	_, err = tm.Validate("")
	assert.ErrorIs(t, err, auth.ErrNoToken)

	_, err = tm.Validate("not.a.token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestCanWrite(t *testing.T) {
	agent := auth.Identity{ID: "u1", Role: auth.RoleAgent}
	sup := auth.Identity{ID: "s1", Role: auth.RoleSupervisor}

	assert.True(t, agent.CanWrite("u1_e1"))
	assert.False(t, agent.CanWrite("u10_e1"))
	assert.False(t, agent.CanWrite("u2_e1"))
	assert.True(t, sup.CanWrite("u2_e1"))
	assert.False(t, auth.Identity{Role: auth.RoleAgent}.CanWrite("_e1"))
}

func TestParseRole(t *testing.T) {
	r, err := auth.ParseRole(" Supervisor ")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSupervisor, r)

	_, err = auth.ParseRole("admin")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", auth.BearerToken("Bearer abc"))
	assert.Equal(t, "abc", auth.BearerToken("bearer  abc"))
	assert.Empty(t, auth.BearerToken("Basic abc"))
	assert.Empty(t, auth.BearerToken(""))
}

func TestContext(t *testing.T) {
	_, ok := auth.FromContext(context.Background())
	assert.False(t, ok)

	id := auth.Identity{ID: "u1", Role: auth.RoleAgent}
	got, ok := auth.FromContext(auth.WithIdentity(context.Background(), id))
	require.True(t, ok)
	assert.Equal(t, id, got)
}
