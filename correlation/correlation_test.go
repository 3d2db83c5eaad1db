package correlation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_IsUUID(t *testing.T) {
	id := New()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, New())
}

func TestWithTransactionID_RoundTrip(t *testing.T) {
	ctx := WithTransactionID(context.Background(), "tx-1")
	assert.Equal(t, "tx-1", FromContext(ctx))
}

func TestWithTransactionID_EmptyIsNoOp(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithTransactionID(ctx, ""))
	assert.Empty(t, FromContext(ctx))
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))

	same, again := Ensure(ctx)
	assert.Equal(t, id, again)
	assert.Equal(t, ctx, same)
}
