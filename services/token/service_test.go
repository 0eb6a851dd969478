package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Daveeeu/skyrox-core/config"
	"github.com/Daveeeu/skyrox-core/testutils"
)

func testTokensConfig() *config.Config {
	return &config.Config{
		Tokens: config.TokensConfig{
			SecretLength:    32,
			AccessExpiry:    time.Hour,
			RefreshExpiry:   24 * time.Hour,
			RotateRefresh:   true,
			SweepInterval:   time.Hour,
			RevokedRetained: 24 * time.Hour,
		},
	}
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutils.SetupTestDB(t, &Token{})
	enc, err := NewEphemeralEncryptor()
	require.NoError(t, err)

	return NewService(db, testTokensConfig(), enc, nil), db
}

func TestIssueAccessToken(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccessToken(ctx, 7, []string{"openid", "offline"}, 0, Metadata{IPAddress: "10.0.0.1", UserAgent: "game-client"})
	require.NoError(t, err)

	assert.NotEmpty(t, issued.Secret)
	assert.Equal(t, KindAccess, issued.Token.Kind)
	assert.Equal(t, uint(7), issued.Token.OwnerID)
	assert.Equal(t, "offline openid", issued.Token.Scope)
	assert.True(t, issued.Token.ExpiresAt.After(time.Now()))

	var stored Token
	require.NoError(t, db.Where("token_id = ?", issued.Token.TokenID).First(&stored).Error)
	assert.Equal(t, hashSecret(issued.Secret), stored.SecretHash)
	assert.NotEmpty(t, stored.SecretCiphertext)
	assert.NotEqual(t, issued.Secret, stored.SecretCiphertext)
	assert.Equal(t, "10.0.0.1", stored.IPAddress)
}

func TestSecretHashUniqueness(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 20; i++ {
		issued, err := svc.IssueAccessToken(ctx, 1, nil, 0, Metadata{})
		require.NoError(t, err)
		_, dup := seen[issued.Token.SecretHash]
		assert.False(t, dup)
		seen[issued.Token.SecretHash] = struct{}{}
	}

	var count int64
	require.NoError(t, db.Model(&Token{}).Distinct("secret_hash").Count(&count).Error)
	assert.EqualValues(t, 20, count)
}

func TestValidate(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccessToken(ctx, 3, []string{"play"}, 0, Metadata{})
	require.NoError(t, err)

	t.Run("success records usage", func(t *testing.T) {
		record, err := svc.Validate(ctx, issued.Secret, KindAccess)
		require.NoError(t, err)
		assert.Equal(t, uint(3), record.OwnerID)
		assert.EqualValues(t, 1, record.UsageCount)
		assert.NotNil(t, record.LastUsedAt)

		var stored Token
		require.NoError(t, db.Where("id = ?", record.ID).First(&stored).Error)
		assert.EqualValues(t, 1, stored.UsageCount)
	})

	t.Run("unknown secret", func(t *testing.T) {
		_, err := svc.Validate(ctx, "no-such-secret", KindAccess)
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("wrong kind", func(t *testing.T) {
		_, err := svc.Validate(ctx, issued.Secret, KindRefresh)
		assert.ErrorIs(t, err, ErrWrongKind)
	})

	t.Run("expired", func(t *testing.T) {
		expired, err := svc.IssueAccessToken(ctx, 3, nil, time.Nanosecond, Metadata{})
		require.NoError(t, err)
		time.Sleep(time.Millisecond)

		_, err = svc.Validate(ctx, expired.Secret, KindAccess)
		assert.ErrorIs(t, err, ErrTokenExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		future, err := svc.IssueAccessToken(ctx, 3, nil, 0, Metadata{})
		require.NoError(t, err)

		nbf := time.Now().Add(time.Hour)
		require.NoError(t, db.Model(&Token{}).Where("id = ?", future.Token.ID).Update("not_before", nbf).Error)

		_, err = svc.Validate(ctx, future.Secret, KindAccess)
		assert.ErrorIs(t, err, ErrTokenNotYetValid)
	})
}

func TestRevokedTokenFailsRegardlessOfExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccessToken(ctx, 9, nil, time.Hour, Metadata{})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, issued.Secret, ReasonManual))

	_, err = svc.Validate(ctx, issued.Secret, KindAccess)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestRevokeIdempotent(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccessToken(ctx, 4, nil, 0, Metadata{})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, issued.Secret, ReasonLogout))
	require.NoError(t, svc.Revoke(ctx, issued.Secret, "different-reason"))

	var stored Token
	require.NoError(t, db.Where("id = ?", issued.Token.ID).First(&stored).Error)
	assert.True(t, stored.Revoked)
	assert.Equal(t, ReasonLogout, stored.RevocationReason)
}

func TestRevokeUnknownSecret(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Revoke(context.Background(), "missing", ReasonManual)
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func TestRefreshRotation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, 5, 0, Metadata{})
	require.NoError(t, err)

	result, err := svc.Refresh(ctx, refresh.Secret, Metadata{})
	require.NoError(t, err)
	require.True(t, result.Rotated)
	require.NotNil(t, result.AccessToken)
	require.NotNil(t, result.RefreshToken)

	t.Run("old refresh secret is dead", func(t *testing.T) {
		_, err := svc.Validate(ctx, refresh.Secret, KindRefresh)
		assert.ErrorIs(t, err, ErrTokenRevoked)

		_, err = svc.Refresh(ctx, refresh.Secret, Metadata{})
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})

	t.Run("new refresh secret works exactly once", func(t *testing.T) {
		second, err := svc.Refresh(ctx, result.RefreshToken.Secret, Metadata{})
		require.NoError(t, err)
		assert.True(t, second.Rotated)

		_, err = svc.Refresh(ctx, result.RefreshToken.Secret, Metadata{})
		assert.ErrorIs(t, err, ErrTokenRevoked)
	})
}

func TestRefreshRotation_RacingExchangeSingleWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, 5, 0, Metadata{})
	require.NoError(t, err)

	// Two workers validate the same secret before either revokes it; each
	// holds its own pre-revocation view of the row.
	viewA, err := svc.Validate(ctx, refresh.Secret, KindRefresh)
	require.NoError(t, err)
	viewB, err := svc.Validate(ctx, refresh.Secret, KindRefresh)
	require.NoError(t, err)

	won, err := svc.revokeRecord(ctx, viewA, ReasonRotated)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = svc.revokeRecord(ctx, viewB, ReasonRotated)
	require.NoError(t, err)
	assert.False(t, won, "second exchange must not win the revoked transition")
	assert.False(t, viewB.Revoked, "loser's view must not be marked as if it won")

	// The loser's Refresh path surfaces the lost transition as a revoked
	// token, so only one replacement chain ever exists.
	_, err = svc.Refresh(ctx, refresh.Secret, Metadata{})
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestAttachAndRevealUpstream(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, 5, 0, Metadata{})
	require.NoError(t, err)

	t.Run("no credential attached", func(t *testing.T) {
		upstream, err := svc.RevealUpstream(ctx, refresh.Token.TokenID)
		require.NoError(t, err)
		assert.Empty(t, upstream)
	})

	require.NoError(t, svc.AttachUpstream(ctx, refresh.Token.TokenID, "upstream-refresh-1"))

	upstream, err := svc.RevealUpstream(ctx, refresh.Token.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "upstream-refresh-1", upstream)

	t.Run("unknown token", func(t *testing.T) {
		err := svc.AttachUpstream(ctx, "no-such-id", "whatever")
		assert.ErrorIs(t, err, ErrTokenNotFound)

		_, err = svc.RevealUpstream(ctx, "no-such-id")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})
}

func TestRefreshRotation_CarriesUpstreamCredential(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, 5, 0, Metadata{})
	require.NoError(t, err)
	require.NoError(t, svc.AttachUpstream(ctx, refresh.Token.TokenID, "upstream-refresh-1"))

	result, err := svc.Refresh(ctx, refresh.Secret, Metadata{})
	require.NoError(t, err)
	require.NotNil(t, result.RefreshToken)

	upstream, err := svc.RevealUpstream(ctx, result.RefreshToken.Token.TokenID)
	require.NoError(t, err)
	assert.Equal(t, "upstream-refresh-1", upstream)
}

func TestRefreshWithoutRotation(t *testing.T) {
	db := testutils.SetupTestDB(t, &Token{})
	enc, err := NewEphemeralEncryptor()
	require.NoError(t, err)

	cfg := testTokensConfig()
	cfg.Tokens.RotateRefresh = false
	svc := NewService(db, cfg, enc, nil)
	ctx := context.Background()

	refresh, err := svc.IssueRefreshToken(ctx, 5, 0, Metadata{})
	require.NoError(t, err)

	first, err := svc.Refresh(ctx, refresh.Secret, Metadata{})
	require.NoError(t, err)
	assert.False(t, first.Rotated)
	assert.Nil(t, first.RefreshToken)
	assert.NotNil(t, first.AccessToken)

	second, err := svc.Refresh(ctx, refresh.Secret, Metadata{})
	require.NoError(t, err)
	assert.NotNil(t, second.AccessToken)
}

func TestRevokeAll(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.IssueAccessToken(ctx, 8, nil, 0, Metadata{})
		require.NoError(t, err)
	}
	other, err := svc.IssueAccessToken(ctx, 99, nil, 0, Metadata{})
	require.NoError(t, err)

	count, err := svc.RevokeAll(ctx, 8, ReasonLogout)
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	// Other owners untouched.
	_, err = svc.Validate(ctx, other.Secret, KindAccess)
	require.NoError(t, err)

	// Idempotent: second call revokes nothing.
	count, err = svc.RevokeAll(ctx, 8, ReasonLogout)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestReveal(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccessToken(ctx, 2, nil, 0, Metadata{})
	require.NoError(t, err)

	secret, err := svc.Reveal(ctx, issued.Token.TokenID)
	require.NoError(t, err)
	assert.Equal(t, issued.Secret, secret)

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.Reveal(ctx, "nope")
		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("corrupted ciphertext", func(t *testing.T) {
		require.NoError(t, db.Model(&Token{}).Where("id = ?", issued.Token.ID).Update("secret_ciphertext", "!!not-base64!!").Error)
		_, err := svc.Reveal(ctx, issued.Token.TokenID)
		assert.ErrorIs(t, err, ErrDecryptionUnavailable)
	})
}

func TestSweepExpired(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	expired, err := svc.IssueAccessToken(ctx, 1, nil, time.Nanosecond, Metadata{})
	require.NoError(t, err)
	live, err := svc.IssueAccessToken(ctx, 1, nil, time.Hour, Metadata{})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	count, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	var stored Token
	require.NoError(t, db.Where("id = ?", expired.Token.ID).First(&stored).Error)
	assert.True(t, stored.Revoked)
	assert.Equal(t, ReasonExpired, stored.RevocationReason)

	_, err = svc.Validate(ctx, live.Secret, KindAccess)
	require.NoError(t, err)
}

func TestPurgeRevoked(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	issued, err := svc.IssueAccessToken(ctx, 1, nil, 0, Metadata{})
	require.NoError(t, err)
	require.NoError(t, svc.Revoke(ctx, issued.Secret, ReasonManual))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, db.Model(&Token{}).Where("id = ?", issued.Token.ID).Update("revoked_at", old).Error)

	count, err := svc.PurgeRevoked(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	err = db.Where("id = ?", issued.Token.ID).First(&Token{}).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestCountQueries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.IssueAccessToken(ctx, 1, nil, 0, Metadata{})
	require.NoError(t, err)
	_, err = svc.IssueRefreshToken(ctx, 1, 0, Metadata{})
	require.NoError(t, err)

	active, err := svc.ActiveCount(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, active)

	counts, err := svc.CountByKind(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts[KindAccess])
	assert.EqualValues(t, 1, counts[KindRefresh])
}

func TestScopeHelpers(t *testing.T) {
	assert.Nil(t, SplitScope(""))
	assert.Equal(t, []string{"a", "b"}, SplitScope("a b a"))
	assert.Equal(t, "", JoinScope(nil))
	assert.Equal(t, "a b", JoinScope([]string{"b", "a", "b", ""}))
}

func TestEncryptorRoundTrip(t *testing.T) {
	enc, err := NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	ct, err := enc.Encrypt("super-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "super-secret", ct)

	pt, err := enc.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", pt)

	t.Run("wrong key fails", func(t *testing.T) {
		other, err := NewEncryptor([]byte("ffffffffffffffffffffffffffffffff"))
		require.NoError(t, err)
		_, err = other.Decrypt(ct)
		assert.ErrorIs(t, err, ErrInvalidCiphertext)
	})

	t.Run("bad key size", func(t *testing.T) {
		_, err := NewEncryptor([]byte("short"))
		assert.Error(t, err)
	})
}
