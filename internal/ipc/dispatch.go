package ipc

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/forest6511/grimoire/pkg/audit"
	"github.com/forest6511/grimoire/pkg/secret"
	"github.com/forest6511/grimoire/pkg/vault"
)

// Transport names used for metrics labels and audit sources.
const (
	TransportSocket = "socket"
	TransportHTTP   = "http"
)

// Vault is the part of *vault.Vault the service needs.
type Vault interface {
	IsUnlocked() bool
	FindCredentials(ctx context.Context, domain string) (secret.Credentials, bool, error)
	UpsertCredentials(ctx context.Context, domain, username, password string) (secret.UpsertResult, error)
}

// RequestRecorder counts handled requests.
type RequestRecorder interface {
	Request(transport, action, result string)
}

// Dispatcher maps requests to vault calls. One Dispatcher is shared by every
// transport; For derives a per-transport view.
type Dispatcher struct {
	vault     Vault
	log       *zap.Logger
	metrics   RequestRecorder
	transport string
	allowed   map[string]bool
}

// NewDispatcher returns a dispatcher over v serving every action.
func NewDispatcher(v Vault, log *zap.Logger, metrics RequestRecorder) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{vault: v, log: log, metrics: metrics}
}

// For returns a copy of d labelled with transport. If actions are given,
// any other action is answered with MsgUnknownAction.
func (d *Dispatcher) For(transport string, actions ...string) *Dispatcher {
	c := *d
	c.transport = transport
	c.log = d.log.With(zap.String("transport", transport))
	c.allowed = nil
	if len(actions) > 0 {
		c.allowed = make(map[string]bool, len(actions))
		for _, a := range actions {
			c.allowed[a] = true
		}
	}
	return &c
}

// HandlePayload parses payload and dispatches it.
func (d *Dispatcher) HandlePayload(ctx context.Context, payload []byte) Response {
	req, err := ParseRequest(payload)
	if err != nil {
		d.record("invalid", false)
		return InvalidJSON(err)
	}
	return d.Handle(ctx, req)
}

// Handle executes req against the vault.
//
// Unknown actions are rejected first. For data actions the lock check comes
// before field validation, so a locked vault never reveals which fields a
// request was missing.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Response {
	ctx = audit.WithSource(ctx, auditSource(d.transport))

	var resp Response
	switch {
	case d.allowed != nil && !d.allowed[req.Action]:
		resp = ErrorResponse(MsgUnknownAction)
	case req.Action == ActionPing:
		resp = d.ping()
	case req.Action == ActionGetCredentials:
		resp = d.getCredentials(ctx, req)
	case req.Action == ActionSetCredentials:
		resp = d.setCredentials(ctx, req)
	default:
		resp = ErrorResponse(MsgUnknownAction)
	}

	action := req.Action
	switch action {
	case ActionPing, ActionGetCredentials, ActionSetCredentials:
	default:
		action = "unknown"
	}
	d.record(action, resp.OK)
	return resp
}

func (d *Dispatcher) ping() Response {
	if !d.vault.IsUnlocked() {
		return ErrorResponse(MsgLocked)
	}
	return Response{OK: true, Message: MsgPong}
}

func (d *Dispatcher) getCredentials(ctx context.Context, req Request) Response {
	if !d.vault.IsUnlocked() {
		return ErrorResponse(MsgLocked)
	}
	if req.Domain == "" {
		return ErrorResponse(MsgDomainNotSpecified)
	}

	creds, found, err := d.vault.FindCredentials(ctx, req.Domain)
	if err != nil {
		return d.vaultError(err)
	}
	if !found {
		return ErrorResponse(MsgNotFound)
	}
	return Response{OK: true, Username: creds.Username, Password: creds.Password}
}

func (d *Dispatcher) setCredentials(ctx context.Context, req Request) Response {
	if !d.vault.IsUnlocked() {
		return ErrorResponse(MsgLocked)
	}
	if req.Domain == "" || req.Username == "" || req.Password == "" {
		return ErrorResponse(MsgMissingFields)
	}

	res, err := d.vault.UpsertCredentials(ctx, req.Domain, req.Username, req.Password)
	if err != nil {
		return d.vaultError(err)
	}

	switch res {
	case secret.Unchanged:
		return Response{OK: true, Message: MsgAlreadySaved}
	case secret.Conflict:
		return Response{OK: true, Message: MsgNotUpdated}
	default:
		return Response{OK: true, Message: MsgSaved}
	}
}

func (d *Dispatcher) vaultError(err error) Response {
	switch {
	case errors.Is(err, vault.ErrLocked):
		return ErrorResponse(MsgLocked)
	case errors.Is(err, secret.ErrEmptyDomain):
		return ErrorResponse(MsgInvalidDomain)
	default:
		d.log.Error("vault operation failed", zap.Error(err))
		return ErrorResponse(MsgSaveFailed)
	}
}

func (d *Dispatcher) record(action string, ok bool) {
	if d.metrics == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	d.metrics.Request(d.transport, action, result)
}

func auditSource(transport string) string {
	if transport == TransportHTTP {
		return audit.SourceHTTP
	}
	return audit.SourceIPC
}
