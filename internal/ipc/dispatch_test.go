package ipc

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/forest6511/grimoire/pkg/secret"
	"github.com/forest6511/grimoire/pkg/vault"
)

type fakeVault struct {
	mu       sync.Mutex
	unlocked bool
	creds    map[string]secret.Credentials
	upserts  int
	err      error
}

func newFakeVault(unlocked bool) *fakeVault {
	return &fakeVault{unlocked: unlocked, creds: map[string]secret.Credentials{}}
}

func (f *fakeVault) IsUnlocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocked
}

func (f *fakeVault) FindCredentials(_ context.Context, domain string) (secret.Credentials, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.unlocked {
		return secret.Credentials{}, false, vault.ErrLocked
	}
	c, ok := f.creds[secret.NormalizeDomain(domain)]
	return c, ok, nil
}

func (f *fakeVault) UpsertCredentials(_ context.Context, domain, username, password string) (secret.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.unlocked {
		return secret.Unchanged, vault.ErrLocked
	}
	if f.err != nil {
		return secret.Unchanged, f.err
	}
	f.upserts++
	key := secret.NormalizeDomain(domain)
	if key == "" {
		return secret.Unchanged, secret.ErrEmptyDomain
	}
	if c, ok := f.creds[key]; ok {
		if c.Username == username && c.Password == password {
			return secret.Unchanged, nil
		}
		return secret.Conflict, nil
	}
	f.creds[key] = secret.Credentials{Username: username, Password: password}
	return secret.Created, nil
}

type countingRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingRecorder) Request(transport, action, result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, transport+"/"+action+"/"+result)
}

func TestDispatch(t *testing.T) {
	unlocked := newFakeVault(true)
	unlocked.creds["github"] = secret.Credentials{Username: "u", Password: "p"}
	locked := newFakeVault(false)

	tests := []struct {
		name  string
		vault *fakeVault
		req   Request
		want  Response
	}{
		{"ping unlocked", unlocked, Request{Action: ActionPing}, Response{OK: true, Message: MsgPong}},
		{"ping locked", locked, Request{Action: ActionPing}, ErrorResponse(MsgLocked)},
		{"get found", unlocked, Request{Action: ActionGetCredentials, Domain: "https://github.com/x"}, Response{OK: true, Username: "u", Password: "p"}},
		{"get missing", unlocked, Request{Action: ActionGetCredentials, Domain: "gitlab.com"}, ErrorResponse(MsgNotFound)},
		{"get no domain", unlocked, Request{Action: ActionGetCredentials}, ErrorResponse(MsgDomainNotSpecified)},
		{"get locked", locked, Request{Action: ActionGetCredentials, Domain: "github.com"}, ErrorResponse(MsgLocked)},
		{"get locked no domain", locked, Request{Action: ActionGetCredentials}, ErrorResponse(MsgLocked)},
		{"set locked", locked, Request{Action: ActionSetCredentials, Domain: "a.com", Username: "u", Password: "p"}, ErrorResponse(MsgLocked)},
		{"set missing password", unlocked, Request{Action: ActionSetCredentials, Domain: "a.com", Username: "u"}, ErrorResponse(MsgMissingFields)},
		{"set empty domain", unlocked, Request{Action: ActionSetCredentials, Domain: "https://", Username: "u", Password: "p"}, ErrorResponse(MsgInvalidDomain)},
		{"set unchanged", unlocked, Request{Action: ActionSetCredentials, Domain: "github.com", Username: "u", Password: "p"}, Response{OK: true, Message: MsgAlreadySaved}},
		{"set conflict", unlocked, Request{Action: ActionSetCredentials, Domain: "github.com", Username: "u", Password: "x"}, Response{OK: true, Message: MsgNotUpdated}},
		{"set created", unlocked, Request{Action: ActionSetCredentials, Domain: "new.example", Username: "u", Password: "p"}, Response{OK: true, Message: MsgSaved}},
		{"unknown", unlocked, Request{Action: "delete_everything"}, ErrorResponse(MsgUnknownAction)},
		{"unknown locked", locked, Request{Action: "delete_everything"}, ErrorResponse(MsgUnknownAction)},
		{"empty action", unlocked, Request{}, ErrorResponse(MsgUnknownAction)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDispatcher(tt.vault, nil, nil)
			assert.Equal(t, tt.want, d.Handle(context.Background(), tt.req))
		})
	}
}

func TestDispatchSaveFailure(t *testing.T) {
	v := newFakeVault(true)
	v.err = errors.New("disk full")
	d := NewDispatcher(v, nil, nil)

	resp := d.Handle(context.Background(), Request{Action: ActionSetCredentials, Domain: "a.com", Username: "u", Password: "p"})
	assert.Equal(t, ErrorResponse(MsgSaveFailed), resp)
}

func TestHandlePayload(t *testing.T) {
	d := NewDispatcher(newFakeVault(true), nil, nil)

	resp := d.HandlePayload(context.Background(), []byte(`{"action":"ping"}`))
	assert.True(t, resp.OK)

	resp = d.HandlePayload(context.Background(), []byte(`{"action":`))
	assert.False(t, resp.OK)
	assert.True(t, strings.HasPrefix(resp.Error, "Invalid JSON: "), resp.Error)

	resp = d.HandlePayload(context.Background(), []byte(`{"action":42}`))
	assert.True(t, strings.HasPrefix(resp.Error, "Invalid JSON: "), resp.Error)

	resp = d.HandlePayload(context.Background(), []byte(`{"action":"get_credentials","domain":null}`))
	assert.Equal(t, ErrorResponse(MsgDomainNotSpecified), resp)
}

func TestDispatcherFor(t *testing.T) {
	rec := &countingRecorder{}
	base := NewDispatcher(newFakeVault(true), nil, rec)
	d := base.For(TransportHTTP, ActionGetCredentials, ActionPing)

	resp := d.Handle(context.Background(), Request{Action: ActionSetCredentials, Domain: "a.com", Username: "u", Password: "p"})
	assert.Equal(t, ErrorResponse(MsgUnknownAction), resp)

	resp = base.For(TransportSocket).Handle(context.Background(), Request{Action: ActionPing})
	assert.True(t, resp.OK)

	assert.Equal(t, []string{"http/set_credentials/error", "socket/ping/ok"}, rec.calls)
}

func TestResponseOmitsAbsentFields(t *testing.T) {
	assert.JSONEq(t, `{"ok":false,"error":"App is locked"}`, string(MarshalResponse(ErrorResponse(MsgLocked))))
	assert.JSONEq(t, `{"ok":true,"username":"u","password":"p"}`,
		string(MarshalResponse(Response{OK: true, Username: "u", Password: "p"})))
}
