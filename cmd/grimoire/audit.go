package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/grimoire/internal/config"
	"github.com/forest6511/grimoire/pkg/audit"
	"github.com/forest6511/grimoire/pkg/auth"
	"github.com/forest6511/grimoire/pkg/crypto"
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

// auditVerifyCmd checks the HMAC chain of the audit log. The HMAC key comes
// from the vault key, so the master password is required.
var auditVerifyCmd = &cobra.Command{
	Use:          "verify",
	Short:        "Verify audit log HMAC chain integrity",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		record, err := auth.NewGate(cfg.RecordPath(), cfg.Argon2).ReadRecord()
		if errors.Is(err, auth.ErrNoRecord) {
			return fmt.Errorf("no vault at %s", cfg.RecordPath())
		}
		if err != nil {
			return err
		}

		password, err := newPrompter(cmd).password("Master password: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password)
		ok, err := auth.Authenticate(string(password), record)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("wrong master password")
		}
		key, err := auth.DeriveKey(string(password), record)
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(key)

		logger := audit.NewLogger(cfg.AuditPath())
		if err := logger.SetHMACKey(key); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Verifying audit log integrity...")
		result, err := logger.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}
		if !result.Valid {
			fmt.Fprintln(out, "Audit log verification FAILED")
			fmt.Fprintf(out, "  Records total: %d\n", result.RecordsTotal)
			fmt.Fprintln(out, "  Errors:")
			for _, e := range result.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
			return errors.New("audit log integrity check failed")
		}
		fmt.Fprintf(out, "Audit log verified: %d records, chain intact\n", result.RecordsTotal)
		return nil
	},
}
