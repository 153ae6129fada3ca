package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/forest6511/grimoire/internal/ipc"
)

// VaultStatusInput is the (empty) input of vault_status.
type VaultStatusInput struct{}

// VaultStatusOutput represents output for vault_status tool.
type VaultStatusOutput struct {
	Running  bool   `json:"running"`
	Unlocked bool   `json:"unlocked"`
	Detail   string `json:"detail,omitempty"`
}

// CredentialsLookupInput represents input for credentials_lookup tool.
type CredentialsLookupInput struct {
	Domain string `json:"domain" jsonschema:"site domain or URL, e.g. github.com"`
}

// CredentialsLookupOutput represents output for credentials_lookup tool.
type CredentialsLookupOutput struct {
	Domain         string `json:"domain"`
	Found          bool   `json:"found"`
	Username       string `json:"username,omitempty"`
	MaskedPassword string `json:"masked_password,omitempty"`
	PasswordLength int    `json:"password_length,omitempty"`
}

// handleVaultStatus handles the vault_status tool call.
func (s *Server) handleVaultStatus(ctx context.Context, _ *mcp.CallToolRequest, _ VaultStatusInput) (*mcp.CallToolResult, VaultStatusOutput, error) {
	resp, err := s.client.Send(ctx, ipc.Request{Action: ipc.ActionPing})
	if err != nil {
		s.log.Debug("vault_status: relay failed", zap.Error(err))
		return nil, VaultStatusOutput{Detail: err.Error()}, nil
	}
	if !resp.OK {
		return nil, VaultStatusOutput{Running: true, Detail: resp.Error}, nil
	}
	return nil, VaultStatusOutput{Running: true, Unlocked: true}, nil
}

// handleCredentialsLookup handles the credentials_lookup tool call.
func (s *Server) handleCredentialsLookup(ctx context.Context, _ *mcp.CallToolRequest, input CredentialsLookupInput) (*mcp.CallToolResult, CredentialsLookupOutput, error) {
	if strings.TrimSpace(input.Domain) == "" {
		return nil, CredentialsLookupOutput{}, errors.New("domain is required")
	}

	resp, err := s.client.Send(ctx, ipc.Request{Action: ipc.ActionGetCredentials, Domain: input.Domain})
	if err != nil {
		return nil, CredentialsLookupOutput{}, fmt.Errorf("grimoire is not running: %w", err)
	}

	output := CredentialsLookupOutput{Domain: input.Domain}
	if !resp.OK {
		if resp.Error == ipc.MsgNotFound {
			return nil, output, nil
		}
		return nil, CredentialsLookupOutput{}, errors.New(resp.Error)
	}

	output.Found = true
	output.Username = resp.Username
	output.MaskedPassword = maskValue(resp.Password)
	output.PasswordLength = utf8.RuneCountInString(resp.Password)
	return nil, output, nil
}

// maskValue hides all but the tail of value: up to 4 characters are fully
// masked, up to 8 keep the last 2, longer values keep the last 4.
func maskValue(value string) string {
	runes := []rune(value)
	length := len(runes)
	if length == 0 {
		return ""
	}

	switch {
	case length <= 4:
		return strings.Repeat("*", length)
	case length <= 8:
		return strings.Repeat("*", length-2) + string(runes[length-2:])
	default:
		return strings.Repeat("*", length-4) + string(runes[length-4:])
	}
}
