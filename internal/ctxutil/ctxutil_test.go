package ctxutil_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kouba/internal/ctxutil"
	"github.com/ashita-ai/kouba/internal/model"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ctxutil.RequestIDFromContext(ctx))
	assert.Empty(t, ctxutil.CredentialFromContext(ctx))
	assert.Nil(t, ctxutil.AuthFromContext(ctx))

	ac := &model.AuthContext{TenantID: uuid.New(), KeyID: uuid.New()}
	ctx = ctxutil.WithRequestID(ctx, "req-1")
	ctx = ctxutil.WithCredential(ctx, "kb_live_abcd1234_secret")
	ctx = ctxutil.WithAuth(ctx, ac)

	assert.Equal(t, "req-1", ctxutil.RequestIDFromContext(ctx))
	assert.Equal(t, "kb_live_abcd1234_secret", ctxutil.CredentialFromContext(ctx))
	assert.Same(t, ac, ctxutil.AuthFromContext(ctx))
}
