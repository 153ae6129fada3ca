package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/grimoire/internal/config"
	"github.com/forest6511/grimoire/internal/ipc"
	"github.com/forest6511/grimoire/pkg/backup"
)

// runningCheckTimeout bounds the check for a running grimoire before restore.
const runningCheckTimeout = 500 * time.Millisecond

var (
	backupWithAudit bool
	backupKeyFile   string
	backupForce     bool

	restoreDryRun     bool
	restoreVerifyOnly bool
	restoreOverwrite  bool
	restoreWithAudit  bool
	restoreKeyFile    string
)

func init() {
	rootCmd.AddCommand(backupCmd, restoreCmd)

	backupCmd.Flags().BoolVar(&backupWithAudit, "with-audit", false, "Include audit log in backup")
	backupCmd.Flags().StringVar(&backupKeyFile, "key-file", "", "Encryption key file (32 bytes) instead of a backup password")
	backupCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite existing file")

	restoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Show what would be restored without making changes")
	restoreCmd.Flags().BoolVar(&restoreVerifyOnly, "verify-only", false, "Only verify backup integrity")
	restoreCmd.Flags().BoolVar(&restoreOverwrite, "overwrite", false, "Replace an existing vault")
	restoreCmd.Flags().BoolVar(&restoreWithAudit, "with-audit", false, "Restore audit log (replaces existing)")
	restoreCmd.Flags().StringVar(&restoreKeyFile, "key-file", "", "Decryption key file")
}

var backupCmd = &cobra.Command{
	Use:   "backup <output-file>",
	Short: "Create encrypted backup of the vault",
	Long: `Create an encrypted backup of the master password record and the secret
store. The backup is sealed with a separate backup password, or with a key
file.

Examples:
  grimoire backup vault.bkp
  grimoire backup full.bkp --with-audit
  grimoire backup vault.bkp --key-file=backup.key`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		outPath := args[0]
		if !backupForce {
			if _, err := os.Stat(outPath); err == nil {
				return fmt.Errorf("output file already exists: %s (use --force to overwrite)", outPath)
			}
		}

		var password []byte
		if backupKeyFile == "" {
			prompt := newPrompter(cmd)
			if password, err = prompt.newPassword("Enter backup password: ", "Confirm backup password: "); err != nil {
				return err
			}
		}

		output, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer output.Close()

		err = backup.Backup(backup.BackupOptions{
			Files:        backupFiles(cfg),
			Output:       output,
			IncludeAudit: backupWithAudit,
			Password:     password,
			KeyFile:      backupKeyFile,
			Params:       cfg.Argon2,
		})
		if err != nil {
			output.Close()
			os.Remove(outPath)
			return fmt.Errorf("backup failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Backup created successfully: %s\n", outPath)
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-file>",
	Short: "Restore vault from encrypted backup",
	Long: `Restore the master password record and the secret store from an encrypted
backup. grimoire must not be running. An existing vault is only replaced with
--overwrite.

Examples:
  grimoire restore vault.bkp --verify-only
  grimoire restore vault.bkp --dry-run
  grimoire restore vault.bkp --overwrite --with-audit`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		backupPath := args[0]
		if _, err := os.Stat(backupPath); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("backup file not found: %s", backupPath)
		}

		var password []byte
		if restoreKeyFile == "" {
			if password, err = newPrompter(cmd).password("Enter backup password: "); err != nil {
				return err
			}
		}
		out := cmd.OutOrStdout()

		if restoreVerifyOnly {
			result, err := backup.Verify(backupPath, password, restoreKeyFile)
			if err != nil {
				return err
			}
			if !result.Valid {
				return fmt.Errorf("backup verification failed: %s", result.Error)
			}
			fmt.Fprintf(out, "Backup is valid: format v%d, created %s, %d secret(s), audit included: %t\n",
				result.Version, result.CreatedAt.Local().Format(time.DateTime), result.SecretCount, result.IncludesAudit)
			return nil
		}

		if !restoreDryRun {
			client := ipc.NewClient(cfg.SocketAddress(), runningCheckTimeout)
			if _, err := client.Send(cmd.Context(), ipc.Request{Action: ipc.ActionPing}); err == nil {
				return fmt.Errorf("grimoire is running at %s; stop it before restoring", client.Addr())
			}
		}

		result, err := backup.Restore(backupPath, backup.RestoreOptions{
			Files:     backupFiles(cfg),
			Overwrite: restoreOverwrite,
			DryRun:    restoreDryRun,
			WithAudit: restoreWithAudit,
			Password:  password,
			KeyFile:   restoreKeyFile,
		})
		if err != nil {
			if errors.Is(err, backup.ErrVaultExists) {
				return fmt.Errorf("%w (use --overwrite to replace it)", err)
			}
			return fmt.Errorf("restore failed: %w", err)
		}

		if result.DryRun {
			fmt.Fprintf(out, "[dry-run] Would restore %d secret(s)", result.SecretsRestored)
		} else {
			fmt.Fprintf(out, "Restored %d secret(s)", result.SecretsRestored)
		}
		if result.AuditRestored {
			fmt.Fprint(out, " and the audit log")
		}
		fmt.Fprintln(out)
		return nil
	},
}

func backupFiles(cfg *config.Config) backup.Files {
	files := backup.Files{
		RecordPath: cfg.RecordPath(),
		StorePath:  cfg.StorePath(),
	}
	if cfg.AuditEnabled {
		files.AuditDir = cfg.AuditPath()
	}
	return files
}

// prompter reads passwords from the command's input: without echo when it is
// a terminal, one line at a time otherwise.
type prompter struct {
	out  io.Writer
	term *os.File
	in   *bufio.Reader
}

func newPrompter(cmd *cobra.Command) *prompter {
	p := &prompter{out: cmd.ErrOrStderr()}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.term = f
	} else {
		p.in = bufio.NewReader(in)
	}
	return p
}

func (p *prompter) password(prompt string) ([]byte, error) {
	fmt.Fprint(p.out, prompt)
	if p.term != nil {
		pw, err := term.ReadPassword(int(p.term.Fd()))
		fmt.Fprintln(p.out)
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return pw, nil
	}

	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return []byte(strings.TrimRight(line, "\r\n")), nil
}

func (p *prompter) newPassword(prompt, confirm string) ([]byte, error) {
	pw, err := p.password(prompt)
	if err != nil {
		return nil, err
	}
	if len(pw) == 0 {
		return nil, backup.ErrEmptyPassword
	}
	again, err := p.password(confirm)
	if err != nil {
		return nil, err
	}
	if string(pw) != string(again) {
		return nil, fmt.Errorf("passwords do not match")
	}
	return pw, nil
}
