// Package auth validates caller credentials for kouba.
//
// Credentials are opaque bearer keys of the form kb_<env>_<prefix>_<secret>.
// Only an Argon2id hash and the public prefix are stored. Validation looks up
// active keys by prefix and verifies the hash in constant time; failure paths
// burn an equivalent hash so timing does not reveal which prefixes exist.
package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/kouba/internal/model"
	"github.com/ashita-ai/kouba/internal/toolerr"
)

// CredentialStore is the read side of the credential table plus the
// last-used stamp.
type CredentialStore interface {
	// GetActiveAPIKeysByPrefix returns active keys sharing prefix. Prefixes
	// are random, so more than one row is rare but legal.
	GetActiveAPIKeysByPrefix(ctx context.Context, prefix string) ([]model.APIKey, error)
	TouchAPIKey(ctx context.Context, keyID uuid.UUID, at time.Time) error
}

const touchTimeout = 5 * time.Second

// Validator turns a raw credential into an AuthContext.
type Validator struct {
	store  CredentialStore
	hasher *Hasher
	logger *slog.Logger
	now    func() time.Time

	touches sync.WaitGroup
}

// NewValidator creates a Validator. hasher must use the same parameters the
// stored hashes were created with.
func NewValidator(store CredentialStore, hasher *Hasher, logger *slog.Logger) *Validator {
	return &Validator{
		store:  store,
		hasher: hasher,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Validate authenticates raw. It fails with missing_credential when raw is
// empty and invalid_credential when no active key matches. On success the
// key's last_used_at is stamped in the background.
func (v *Validator) Validate(ctx context.Context, raw string) (*model.AuthContext, error) {
	if raw == "" {
		return nil, toolerr.New(toolerr.KindMissingCredential, "no credential supplied")
	}

	env, prefix, err := model.ParseRawKey(raw)
	if err != nil {
		v.hasher.DummyVerify()
		return nil, invalidCredential()
	}

	keys, err := v.store.GetActiveAPIKeysByPrefix(ctx, prefix)
	if err != nil {
		v.hasher.DummyVerify()
		return nil, toolerr.Wrap(toolerr.KindDatabase, err, "credential lookup failed")
	}

	var matched *model.APIKey
	for i := range keys {
		k := &keys[i]
		ok, err := v.hasher.Verify(raw, k.KeyHash)
		if err != nil {
			v.logger.Warn("auth: stored key hash is malformed", "key_id", k.ID, "error", err)
			// Verify may fail before deriving anything.
			v.hasher.DummyVerify()
			continue
		}
		// Keep verifying the remaining candidates so the work done does not
		// depend on which row matched.
		if ok && matched == nil && k.Active && k.Environment == env {
			matched = k
		}
	}
	if len(keys) == 0 {
		v.hasher.DummyVerify()
	}
	if matched == nil {
		return nil, invalidCredential()
	}

	v.touch(matched.ID)
	return model.AuthContextFor(*matched), nil
}

// Wait blocks until background last-used updates have finished.
func (v *Validator) Wait() {
	v.touches.Wait()
}

// touch stamps last_used_at without blocking or failing the call.
func (v *Validator) touch(keyID uuid.UUID) {
	at := v.now()
	v.touches.Add(1)
	go func() {
		defer v.touches.Done()
		ctx, cancel := context.WithTimeout(context.Background(), touchTimeout)
		defer cancel()
		if err := v.store.TouchAPIKey(ctx, keyID, at); err != nil {
			v.logger.Warn("auth: update last_used_at failed", "key_id", keyID, "error", err)
		}
	}()
}

func invalidCredential() error {
	return toolerr.New(toolerr.KindInvalidCredential, "invalid or revoked credential")
}
