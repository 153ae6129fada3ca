package vault

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/forest6511/grimoire/pkg/audit"
	"github.com/forest6511/grimoire/pkg/secret"
)

// FindCredentials returns the credentials stored for domain. found is false
// when no secret matches.
func (v *Vault) FindCredentials(ctx context.Context, domain string) (creds secret.Credentials, found bool, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return secret.Credentials{}, false, ErrLocked
	}

	creds, found = v.store.FindCredentialsForDomain(domain)
	result := audit.ResultSuccess
	if !found {
		result = audit.ResultMiss
	}
	v.logAudit(ctx, audit.OpCredentialsGet, result, domain, nil)
	v.log.Debug("credentials lookup", zap.String("domain", domain), zap.Bool("found", found))
	return creds, found, nil
}

// UpsertCredentials records credentials captured for domain.
func (v *Vault) UpsertCredentials(ctx context.Context, domain, username, password string) (secret.UpsertResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return secret.Unchanged, ErrLocked
	}

	res, err := v.store.UpsertCredentialsForDomain(v.key, domain, username, password)
	if err != nil {
		if !errors.Is(err, secret.ErrEmptyDomain) {
			v.log.Error("failed to save credentials", zap.Error(err))
		}
		v.logAudit(ctx, audit.OpCredentialsSet, audit.ResultError, domain, err)
		return res, err
	}

	v.logAudit(ctx, audit.OpCredentialsSet, audit.ResultSuccess, domain, nil)
	v.log.Debug("credentials upsert", zap.String("domain", domain), zap.Stringer("result", res))
	return res, nil
}

// Secrets returns a copy of every secret in stored order.
func (v *Vault) Secrets() ([]secret.Secret, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return nil, ErrLocked
	}
	return v.store.Secrets(), nil
}

// Secret returns a copy of the secret at index.
func (v *Vault) Secret(index int) (secret.Secret, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return secret.Secret{}, ErrLocked
	}
	return v.store.Get(index)
}

// AddSecret appends s and persists the store.
func (v *Vault) AddSecret(ctx context.Context, s secret.Secret) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return ErrLocked
	}
	err := v.store.Add(v.key, s)
	v.auditMutation(ctx, audit.OpSecretAdd, s.Name, err)
	return err
}

// UpdateSecret replaces the secret at index with s. The updated secret moves
// to the end of the collection.
func (v *Vault) UpdateSecret(ctx context.Context, index int, s secret.Secret) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return ErrLocked
	}
	err := v.store.Replace(v.key, index, s)
	v.auditMutation(ctx, audit.OpSecretUpdate, s.Name, err)
	return err
}

// DeleteSecret removes the secret at index.
func (v *Vault) DeleteSecret(ctx context.Context, index int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return ErrLocked
	}
	var name string
	if s, err := v.store.Get(index); err == nil {
		name = s.Name
	}
	err := v.store.Remove(v.key, index)
	v.auditMutation(ctx, audit.OpSecretDelete, name, err)
	return err
}

// Search returns the indices of secrets whose names contain query.
func (v *Vault) Search(query string) ([]int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state != Unlocked {
		return nil, ErrLocked
	}
	return v.store.Search(query), nil
}

func (v *Vault) auditMutation(ctx context.Context, op, name string, err error) {
	source := audit.SourceFrom(ctx)
	var logErr error
	if err != nil {
		logErr = v.audit.LogError(op, source, name, err)
	} else {
		logErr = v.audit.LogSuccess(op, source, name)
	}
	if logErr != nil {
		v.log.Warn("failed to write audit record", zap.String("op", op), zap.Error(logErr))
	}
}
