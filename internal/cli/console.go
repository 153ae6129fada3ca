package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/forest6511/grimoire/pkg/audit"
	"github.com/forest6511/grimoire/pkg/auth"
	"github.com/forest6511/grimoire/pkg/importer"
	"github.com/forest6511/grimoire/pkg/secret"
	"github.com/forest6511/grimoire/pkg/security"
	"github.com/forest6511/grimoire/pkg/vault"
)

const helpText = `Commands:
  list                         list secrets
  show <n>                     show secret n
  new <name>                   create a secret; enter key=value lines, blank line to finish
  edit <n> name <new name>     rename secret n
  edit <n> field <m> <value>   replace the value (or key=value) of field m
  edit <n> add <key=value>     append a field
  edit <n> remove <m>          remove field m
  delete <n>                   delete secret n
  search <text|pattern>        find secrets by name (glob patterns use * ? [ ])
  duplicates                   list secrets that share a password
  import <format> <file>       import a bitwarden, 1password or lastpass export
  help                         show this help
  quit                         exit grimoire`

// errQuit ends the command loop.
var errQuit = errors.New("quit")

// PasswordFunc reads a password after showing prompt.
type PasswordFunc func(prompt string) (string, error)

// Option configures a Console.
type Option func(*Console)

// WithPasswordFunc replaces the hidden terminal prompt.
func WithPasswordFunc(f PasswordFunc) Option {
	return func(c *Console) { c.password = f }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Console) { c.log = log }
}

// Console is the line-oriented interactive front end of the vault.
type Console struct {
	vault    *vault.Vault
	in       *bufio.Reader
	out      io.Writer
	password PasswordFunc
	log      *zap.Logger
}

// New returns a console reading commands from in and writing to out. When in
// is a terminal, passwords are read without echo.
func New(v *vault.Vault, in io.Reader, out io.Writer, opts ...Option) *Console {
	c := &Console{
		vault: v,
		in:    bufio.NewReader(in),
		out:   out,
		log:   zap.NewNop(),
	}
	c.password = c.linePassword
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		c.password = func(prompt string) (string, error) {
			fmt.Fprint(c.out, prompt)
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(c.out)
			if err != nil {
				return "", fmt.Errorf("failed to read password: %w", err)
			}
			return string(b), nil
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run performs first-time setup or unlock, then serves commands until quit,
// end of input or ctx is done. End of input is not an error.
func (c *Console) Run(ctx context.Context) error {
	ctx = audit.WithSource(ctx, audit.SourceConsole)

	var err error
	switch c.vault.State() {
	case vault.Uninitialized:
		err = c.setup(ctx)
	case vault.Locked:
		err = c.login(ctx)
	}
	if err == nil {
		fmt.Fprintln(c.out, "Vault unlocked. Type 'help' for commands.")
		err = c.loop(ctx)
	}

	if errors.Is(err, io.EOF) || errors.Is(err, errQuit) {
		return nil
	}
	return err
}

func (c *Console) setup(ctx context.Context) error {
	fmt.Fprintln(c.out, "No master password is set. Choose one to create your vault.")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pw, err := c.password("New master password: ")
		if err != nil {
			return err
		}
		report := auth.CheckStrength(pw)
		if !report.Valid {
			for _, w := range report.Warnings {
				fmt.Fprintf(c.out, "%s\n", w)
			}
			continue
		}
		confirm, err := c.password("Confirm master password: ")
		if err != nil {
			return err
		}
		if confirm != pw {
			fmt.Fprintln(c.out, "Passwords do not match.")
			continue
		}

		fmt.Fprintf(c.out, "Password strength: %s\n", report.Strength)
		for _, w := range report.Warnings {
			fmt.Fprintf(c.out, "Warning: %s\n", w)
		}
		if err := c.vault.Initialize(ctx, pw); err != nil {
			return fmt.Errorf("failed to initialize vault: %w", err)
		}
		return nil
	}
}

func (c *Console) login(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pw, err := c.password("Master password: ")
		if err != nil {
			return err
		}
		ok, err := c.vault.Unlock(ctx, pw)
		if err != nil {
			if errors.Is(err, vault.ErrIntegrity) {
				fmt.Fprintln(c.out, "The secret store is damaged or was modified; refusing to unlock.")
			}
			return fmt.Errorf("failed to unlock vault: %w", err)
		}
		if ok {
			return nil
		}
		fmt.Fprintln(c.out, "Wrong password, try again.")
	}
}

func (c *Console) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(c.out, "> ")
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if err := c.execute(ctx, line); err != nil {
			if errors.Is(err, errQuit) || errors.Is(err, io.EOF) {
				return err
			}
			c.log.Debug("console command failed", zap.Error(err))
			fmt.Fprintf(c.out, "Error: %v\n", err)
		}
	}
}

func (c *Console) execute(ctx context.Context, line string) error {
	cmd, args := cutWord(line)
	switch cmd {
	case "":
		return nil
	case "list", "ls":
		return c.list()
	case "show":
		return c.show(args)
	case "new":
		return c.create(ctx, args)
	case "edit":
		return c.edit(ctx, args)
	case "delete", "rm":
		return c.remove(ctx, args)
	case "search", "find":
		return c.search(args)
	case "duplicates", "reused":
		return c.duplicates()
	case "import":
		return c.importFile(ctx, args)
	case "help", "?":
		fmt.Fprintln(c.out, helpText)
		return nil
	case "quit", "exit", "q":
		return errQuit
	default:
		fmt.Fprintf(c.out, "Unknown command %q. Type 'help' for commands.\n", cmd)
		return nil
	}
}

func (c *Console) list() error {
	secrets, err := c.vault.Secrets()
	if err != nil {
		return err
	}
	if len(secrets) == 0 {
		fmt.Fprintln(c.out, "No secrets.")
		return nil
	}
	for i, s := range secrets {
		c.printEntry(i, s)
	}
	return nil
}

func (c *Console) printEntry(i int, s secret.Secret) {
	fmt.Fprintf(c.out, "%3d  %s  (%s)\n", i+1, s.Name, s.LastModified.Local().Format(time.DateTime))
}

func (c *Console) show(args string) error {
	idx, err := parseIndex(args)
	if err != nil {
		return err
	}
	s, err := c.vault.Secret(idx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s\n", s.Name)
	fmt.Fprintf(c.out, "  modified %s\n", s.LastModified.Local().Format(time.DateTime))
	for i, p := range s.Contents {
		fmt.Fprintf(c.out, "  %d. %s: %s\n", i+1, p.Key, p.Value)
	}
	return nil
}

func (c *Console) create(ctx context.Context, name string) error {
	if name == "" {
		return secret.ErrEmptyName
	}
	fmt.Fprintln(c.out, "Enter fields as key=value, a bare key to type a hidden value, blank line to finish.")

	var contents []secret.Pair
	for {
		fmt.Fprint(c.out, "  field: ")
		line, err := c.readLine()
		if err != nil {
			return err
		}
		if line == "" {
			break
		}
		if !strings.Contains(line, "=") {
			value, err := c.password(fmt.Sprintf("  %s: ", line))
			if err != nil {
				return err
			}
			contents = append(contents, secret.Pair{Key: line, Value: value})
			continue
		}
		p, err := parsePair(line)
		if err != nil {
			fmt.Fprintf(c.out, "  %v\n", err)
			continue
		}
		contents = append(contents, p)
	}

	if err := c.vault.AddSecret(ctx, secret.New(name, contents)); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Secret '%s' saved with %d fields.\n", name, len(contents))
	return nil
}

func (c *Console) edit(ctx context.Context, args string) error {
	n, rest := cutWord(args)
	idx, err := parseIndex(n)
	if err != nil {
		return errBadEditUsage
	}
	s, err := c.vault.Secret(idx)
	if err != nil {
		return err
	}

	var edited secret.Secret
	op, operand := cutWord(rest)
	switch op {
	case "add":
		edited, err = AddField(s, operand)
	case "remove":
		var field int
		if field, err = parseIndex(operand); err == nil {
			edited, err = RemoveField(s, field)
		}
	default:
		var target EditTarget
		var value string
		if target, value, err = ParseEditTarget(rest); err == nil {
			edited, err = ApplyEdit(s, target, value)
		}
	}
	if err != nil {
		return err
	}

	if err := c.vault.UpdateSecret(ctx, idx, edited); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Secret '%s' updated.\n", edited.Name)
	return nil
}

func (c *Console) remove(ctx context.Context, args string) error {
	idx, err := parseIndex(args)
	if err != nil {
		return err
	}
	s, err := c.vault.Secret(idx)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Delete '%s'? [y/N]: ", s.Name)
	answer, err := c.readLine()
	if err != nil {
		return err
	}
	if a := strings.ToLower(answer); a != "y" && a != "yes" {
		fmt.Fprintln(c.out, "Cancelled.")
		return nil
	}

	if err := c.vault.DeleteSecret(ctx, idx); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "Secret '%s' deleted.\n", s.Name)
	return nil
}

func (c *Console) search(query string) error {
	if query == "" {
		return errors.New("usage: search <text|pattern>")
	}

	var matches []int
	if IsPattern(query) {
		secrets, err := c.vault.Secrets()
		if err != nil {
			return err
		}
		names := make([]string, len(secrets))
		for i, s := range secrets {
			names[i] = s.Name
		}
		if matches, err = MatchNames(query, names); err != nil {
			return err
		}
	} else {
		var err error
		if matches, err = c.vault.Search(query); err != nil {
			return err
		}
	}

	if len(matches) == 0 {
		fmt.Fprintln(c.out, "No matches.")
		return nil
	}
	for _, i := range matches {
		s, err := c.vault.Secret(i)
		if err != nil {
			return err
		}
		c.printEntry(i, s)
	}
	return nil
}

func (c *Console) duplicates() error {
	secrets, err := c.vault.Secrets()
	if err != nil {
		return err
	}
	groups, err := security.FindDuplicates(secrets)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Fprintln(c.out, "No reused passwords.")
		return nil
	}
	for _, g := range groups {
		fmt.Fprintf(c.out, "Password shared by %d secrets:\n", g.Count())
		for i, idx := range g.Indices {
			fmt.Fprintf(c.out, "  %3d  %s\n", idx+1, g.Names[i])
		}
	}
	return nil
}

// readLine returns the next input line without its line ending. A final
// line without a newline is returned before io.EOF.
func (c *Console) importFile(ctx context.Context, args string) error {
	format, path := cutWord(args)
	if format == "" || path == "" {
		return errors.New("usage: import <bitwarden|1password|lastpass> <file>")
	}
	parser, err := importer.ParserFor(format)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read import file: %w", err)
	}
	result, err := parser.Parse(data)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		fmt.Fprintf(c.out, "Warning: %s\n", w)
	}
	for _, sk := range result.Skipped {
		fmt.Fprintf(c.out, "Skipped: %s (%s)\n", sk.OriginalName, sk.Reason)
	}
	imported := 0
	for _, s := range result.Secrets {
		if err := c.vault.AddSecret(ctx, s); err != nil {
			fmt.Fprintf(c.out, "Import summary: %d imported\n", imported)
			return err
		}
		imported++
	}
	c.log.Info("secrets imported", zap.String("source", string(parser.Source())), zap.Int("count", imported))
	fmt.Fprintf(c.out, "Import summary: %d imported, %d skipped\n", imported, len(result.Skipped))
	return nil
}

func (c *Console) readLine() (string, error) {
	line, err := c.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *Console) linePassword(prompt string) (string, error) {
	fmt.Fprint(c.out, prompt)
	return c.readLine()
}
