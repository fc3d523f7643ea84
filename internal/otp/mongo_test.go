package otp

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otpauth/internal/database"
)

func setupMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set, skipping MongoDB tests")
	}
	ctx := context.Background()
	client, err := database.ConnectMongoDB(ctx, uri, nil)
	require.NoError(t, err)

	db := "otpauth_test_" + uuid.NewString()[:8]
	col := database.Collection(client, db, database.OTPCollection)
	t.Cleanup(func() {
		_ = client.Database(db).Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})

	store := NewMongoStore(col)
	require.NoError(t, store.EnsureIndexes(ctx))
	return store
}

func TestMongoStoreLedgerFlow(t *testing.T) {
	store := setupMongoStore(t)
	clock := newFakeClock()
	l := NewDurableLedger(testHasher(t), store, WithClock(clock.Now), withSequentialCodes())
	ctx := context.Background()

	old, err := l.Issue(ctx, testEmail, PurposeForgotPassword)
	require.NoError(t, err)
	code, err := l.Issue(ctx, testEmail, PurposeForgotPassword)
	require.NoError(t, err)

	res, err := l.Verify(ctx, testEmail, PurposeForgotPassword, old)
	require.NoError(t, err)
	assert.Equal(t, Result{Outcome: Mismatch, Remaining: 4}, res)

	res, err = l.Verify(ctx, testEmail, PurposeForgotPassword, code)
	require.NoError(t, err)
	assert.Equal(t, Verified, res.Outcome)

	require.NoError(t, l.Consume(ctx, testEmail, PurposeForgotPassword))
	assert.ErrorIs(t, l.Consume(ctx, testEmail, PurposeForgotPassword), ErrNotConfirmed)

	require.NoError(t, l.Purge(ctx, testEmail))
	_, err = store.Find(ctx, testEmail, string(PurposeForgotPassword))
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMongoStoreConditionalWrites(t *testing.T) {
	store := setupMongoStore(t)
	ctx := context.Background()
	clock := newFakeClock()

	rec, _, err := newRecord(testHasher(t), newSettings([]Option{WithClock(clock.Now)}), testEmail, PurposeSignup)
	require.NoError(t, err)
	require.NoError(t, store.Replace(ctx, rec))

	stale := rec
	stale.CodeHash = "superseded"
	stale.AttemptCount = 3
	assert.ErrorIs(t, store.Update(ctx, stale), ErrRecordNotFound)
	require.NoError(t, store.Delete(ctx, stale))

	got, err := store.Find(ctx, testEmail, string(PurposeSignup))
	require.NoError(t, err)
	assert.Equal(t, 0, got.AttemptCount)
	assert.Equal(t, rec.CodeHash, got.CodeHash)
}
