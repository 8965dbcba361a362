package profile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/gurre/cognito-profile/errs"
	"github.com/gurre/cognito-profile/internal/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTable = "users"

func newTestStore(t *testing.T) (*DynamoDBStore, *fake.DynamoDBClient) {
	t.Helper()
	client := fake.NewDynamoDBClient(HashKey)
	store := NewDynamoDBStore(client, testTable)
	store.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return store, client
}

func TestCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	store, client := newTestStore(t)

	created, err := store.Create(ctx, Profile{IdentityID: "abc123", Name: strPtr("Alice"), Image: []byte{0xff}})
	require.NoError(t, err)
	assert.False(t, created.CreatedAt.IsZero())

	item := client.Item(testTable, "abc123")
	require.NotNil(t, item)
	assert.Equal(t, &types.AttributeValueMemberS{Value: "Alice"}, item["name"])
	assert.NotContains(t, item, "image", "avatar bytes belong in the object store")
	assert.Equal(t, &types.AttributeValueMemberBOOL{Value: true}, item["hasImage"])

	loaded, err := store.Load(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "abc123", loaded.IdentityID)
	assert.Equal(t, "Alice", *loaded.Name)
	assert.Nil(t, loaded.Image)
	assert.True(t, created.CreatedAt.Equal(loaded.CreatedAt))
}

func TestCreateWithoutNameOmitsAttribute(t *testing.T) {
	ctx := context.Background()
	store, client := newTestStore(t)

	_, err := store.Create(ctx, Profile{IdentityID: "xyz789"})
	require.NoError(t, err)

	item := client.Item(testTable, "xyz789")
	assert.NotContains(t, item, "name")

	loaded, err := store.Load(ctx, "xyz789")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Nil(t, loaded.Name)
}

func TestCreateRequiresIdentity(t *testing.T) {
	store, client := newTestStore(t)

	_, err := store.Create(context.Background(), Profile{Name: strPtr("Alice")})
	assert.ErrorIs(t, err, errs.ErrPrecondition)
	assert.Empty(t, client.Calls())
}

func TestCreateExistingIsPrecondition(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Create(ctx, Profile{IdentityID: "abc123"})
	require.NoError(t, err)

	_, err = store.Create(ctx, Profile{IdentityID: "abc123", Name: strPtr("Mallory")})
	assert.ErrorIs(t, err, errs.ErrPrecondition)

	loaded, err := store.Load(ctx, "abc123")
	require.NoError(t, err)
	assert.Nil(t, loaded.Name, "the existing record must not be overwritten")
}

func TestLoadMissingIsNotAnError(t *testing.T) {
	store, _ := newTestStore(t)

	loaded, err := store.Load(context.Background(), "nobody")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestLoadTransportError(t *testing.T) {
	store, client := newTestStore(t)
	client.FailNext("GetItem", errors.New("connection reset by peer"))

	_, err := store.Load(context.Background(), "abc123")
	assert.ErrorIs(t, err, errs.ErrTransport)
}

func TestUpdateOverwritesRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	created, err := store.Create(ctx, Profile{IdentityID: "abc123", Name: strPtr("Alice")})
	require.NoError(t, err)

	store.now = func() time.Time { return created.CreatedAt.Add(time.Hour) }
	updated, err := store.Update(ctx, Merge(created, Data{Name: strPtr("Alicia")}))
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(updated.CreatedAt))

	loaded, err := store.Load(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", *loaded.Name)
	assert.True(t, created.CreatedAt.Equal(loaded.CreatedAt))
}

func TestUpdateRequiresIdentity(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Update(context.Background(), Profile{})
	assert.ErrorIs(t, err, errs.ErrPrecondition)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	store, client := newTestStore(t)

	_, err := store.Create(ctx, Profile{IdentityID: "abc123"})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "abc123"))
	assert.Nil(t, client.Item(testTable, "abc123"))

	client.FailNext("DeleteItem", errors.New("throttled"))
	assert.ErrorIs(t, store.Delete(ctx, "abc123"), errs.ErrTransport)
}
