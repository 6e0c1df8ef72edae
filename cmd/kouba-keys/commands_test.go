package main

import (
	"bytes"
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kouba/internal/auth"
	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/storage"
)

type fakeStore struct {
	tenants  []model.Tenant
	keys     []model.APIKey
	usage    []model.UsageLogEntry
	lastUse  storage.UsageFilter
	released bool
}

func (f *fakeStore) CreateTenant(_ context.Context, name string) (model.Tenant, error) {
	t := model.Tenant{ID: uuid.New(), Name: name, CreatedAt: time.Now()}
	f.tenants = append(f.tenants, t)
	return t, nil
}

func (f *fakeStore) CreateAPIKey(_ context.Context, key model.APIKey) (model.APIKey, error) {
	key.ID = uuid.New()
	key.Active = true
	f.keys = append(f.keys, key)
	return key, nil
}

func (f *fakeStore) ListAPIKeys(_ context.Context, tenantID uuid.UUID) ([]model.APIKey, error) {
	var out []model.APIKey
	for _, k := range f.keys {
		if k.TenantID == tenantID {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeStore) RevokeAPIKey(_ context.Context, tenantID, keyID uuid.UUID) error {
	for i := range f.keys {
		if f.keys[i].ID == keyID && f.keys[i].TenantID == tenantID && f.keys[i].Active {
			f.keys[i].Active = false
			return nil
		}
	}
	return storage.ErrNotFound
}

func (f *fakeStore) ListUsage(_ context.Context, _ uuid.UUID, filter storage.UsageFilter) ([]model.UsageLogEntry, error) {
	f.lastUse = filter
	return f.usage, nil
}

var cheap = auth.Params{Time: 1, Memory: 64, Threads: 1, KeyLen: 32}

func execute(t *testing.T, st *fakeStore, args ...string) (string, error) {
	t.Helper()
	open := func(context.Context) (keyStore, func(), error) {
		return st, func() { st.released = true }, nil
	}
	root := newRootCommandWithHasher(open, auth.NewHasher(cheap))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCreateTenant(t *testing.T) {
	st := &fakeStore{}
	out, err := execute(t, st, "create-tenant", "Acme Fabrication")
	require.NoError(t, err)
	require.Len(t, st.tenants, 1)
	assert.Contains(t, out, st.tenants[0].ID.String())
	assert.True(t, st.released)
}

func TestMint_PrintsKeyOnceAndStoresHash(t *testing.T) {
	st := &fakeStore{}
	tenant := uuid.New()
	out, err := execute(t, st, "mint", "--tenant", tenant.String(), "--name", "line-3",
		"--tools", "fetch_jobs,start_operation", "--rate-limit", "120", "--env", "test")
	require.NoError(t, err)
	require.Len(t, st.keys, 1)

	raw := regexp.MustCompile(`kb_test_[0-9a-f]{8}_[0-9a-f]{32}`).FindString(out)
	require.NotEmpty(t, raw, "raw key must be printed")

	key := st.keys[0]
	assert.Equal(t, tenant, key.TenantID)
	assert.Equal(t, "line-3", key.Name)
	assert.Equal(t, []string{"fetch_jobs", "start_operation"}, key.AllowedTools)
	assert.Equal(t, 120, key.RateLimit)
	assert.Equal(t, model.EnvTest, key.Environment)
	assert.NotContains(t, key.KeyHash, raw)

	ok, err := auth.NewHasher(cheap).Verify(raw, key.KeyHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMint_Wildcard(t *testing.T) {
	st := &fakeStore{}
	out, err := execute(t, st, "mint", "--tenant", uuid.NewString(), "--tools", "fetch_jobs,*")
	require.NoError(t, err)
	require.Len(t, st.keys, 1)
	assert.Equal(t, []string{model.AllTools}, st.keys[0].AllowedTools)
	assert.Contains(t, out, "tools:   all")
}

func TestMint_Rejects(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown tool", []string{"--tenant", uuid.NewString(), "--tools", "fetch_jobs,drop_tables"}, "drop_tables"},
		{"bad tenant", []string{"--tenant", "acme"}, "not a valid id"},
		{"missing tenant", nil, "tenant"},
		{"bad environment", []string{"--tenant", uuid.NewString(), "--env", "staging"}, "staging"},
		{"negative rate limit", []string{"--tenant", uuid.NewString(), "--rate-limit=-1"}, "rate-limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &fakeStore{}
			_, err := execute(t, st, append([]string{"mint"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Empty(t, st.keys)
		})
	}
}

func TestListAndRevoke(t *testing.T) {
	st := &fakeStore{}
	tenant := uuid.New()
	_, err := execute(t, st, "mint", "--tenant", tenant.String(), "--tools", "fetch_jobs")
	require.NoError(t, err)
	keyID := st.keys[0].ID

	out, err := execute(t, st, "list", "--tenant", tenant.String())
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, keyID.String(), listed[0]["id"])
	assert.NotContains(t, listed[0], "key_hash")

	_, err = execute(t, st, "revoke", "--tenant", tenant.String(), "--key", keyID.String())
	require.NoError(t, err)
	assert.False(t, st.keys[0].Active)

	_, err = execute(t, st, "revoke", "--tenant", tenant.String(), "--key", keyID.String())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUsage_PassesFilter(t *testing.T) {
	st := &fakeStore{usage: []model.UsageLogEntry{{ToolName: "fetch_jobs", Success: true}}}
	keyID := uuid.New()
	out, err := execute(t, st, "usage", "--tenant", uuid.NewString(), "--key", keyID.String(),
		"--tool", "fetch_jobs", "--limit", "5")
	require.NoError(t, err)
	assert.Equal(t, storage.UsageFilter{KeyID: keyID, ToolName: "fetch_jobs", Limit: 5}, st.lastUse)
	assert.Contains(t, out, `"tool_name": "fetch_jobs"`)
}
