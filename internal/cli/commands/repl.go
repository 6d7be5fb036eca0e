package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/quarrybuild/quarry/internal/address"
	"github.com/quarrybuild/quarry/internal/session"
)

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive spec resolution console",
		Long: `Resolve target specs interactively.

Every line is parsed as a spec and resolved against the build tree: a
directory spec lists its targets, a target spec shows the target with
its declared fields. Tab completion covers known directories and
addresses; .reload picks up declaration file edits.`,
		Example: `  quarry repl

  quarry> src/app
  quarry> src/app:app
  quarry> .help`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd)
		},
	}
	return cmd
}

func runREPL(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)
	ctx := cmd.Context()

	sess, err := cmdCtx.NewSession()
	if err != nil {
		return err
	}

	// Project-local history, next to the state database.
	historyDir := filepath.Join(cmdCtx.Root, ".quarry")
	if err := os.MkdirAll(historyDir, 0o750); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "quarry> ",
		HistoryFile:     filepath.Join(historyDir, "repl_history"),
		AutoComplete:    newSpecCompleter(ctx, sess),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "quarry resolution console (root: %s)\n", cmdCtx.Root)
	_, _ = fmt.Fprintln(out, "Type a spec to resolve it, .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(out)

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, ".") {
			quit := handleREPLCommand(ctx, cmd, line, &sess, cmdCtx, rl)
			if quit {
				break
			}
			continue
		}

		if err := resolveAndPrint(ctx, out, sess, line); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}
		_, _ = fmt.Fprintln(out)
	}

	return nil
}

// handleREPLCommand executes a dot-command, returning true to exit.
// .reload swaps in a fresh session so edits to declaration files are
// picked up, and rebuilds the completer from it.
func handleREPLCommand(ctx context.Context, cmd *cobra.Command, line string, sess **session.Session, cmdCtx *CommandContext, rl *readline.Instance) bool {
	out := cmd.OutOrStdout()
	switch strings.ToLower(strings.Fields(line)[0]) {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(out)

	case ".dirs":
		if err := printDeclaredDirs(ctx, out, *sess); err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
		}

	case ".reload":
		fresh, err := cmdCtx.NewSession()
		if err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
			return false
		}
		*sess = fresh
		rl.Config.AutoComplete = newSpecCompleter(ctx, fresh)
		_, _ = fmt.Fprintln(out, "session reloaded")

	default:
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Unknown command: %s (type .help for commands)\n", line)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help     Show this help message
  .dirs     List directories with declared targets
  .reload   Re-read declaration files
  .quit     Exit the console

Specs:
  src/app          all targets declared in src/app
  src/app:tools    one target
  //:root          target "root" at the build root
`
	_, _ = fmt.Fprintln(w, help)
}

func resolveAndPrint(ctx context.Context, w io.Writer, sess *session.Session, spec string) error {
	listings, err := sess.ListSpec(ctx, spec, address.Origin("the console"))
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Address", "Kind", "Origin"})
	for _, l := range listings {
		t.AppendRow(table.Row{l.Address.Spec(), l.Adaptor.Kind, l.Origin})
	}
	t.Render()

	if len(listings) == 1 {
		adaptor := listings[0].Adaptor
		for _, name := range adaptor.SortedFieldNames() {
			_, _ = fmt.Fprintf(w, "  %s = %s\n", name, formatFieldValue(adaptor.Fields[name]))
		}
	}
	return nil
}

func printDeclaredDirs(ctx context.Context, w io.Writer, sess *session.Session) error {
	listings, err := collectListings(ctx, sess, nil)
	if err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, l := range listings {
		dir := displayDir(l.Address.SpecPath)
		if seen[dir] {
			continue
		}
		seen[dir] = true
		_, _ = fmt.Fprintln(w, dir)
	}
	return nil
}

// newSpecCompleter completes directory paths, target addresses and the
// dot-commands. Resolution failures leave completion empty rather than
// breaking the console.
func newSpecCompleter(ctx context.Context, sess *session.Session) *readline.PrefixCompleter {
	var items []readline.PrefixCompleterInterface

	listings, err := collectListings(ctx, sess, nil)
	if err == nil {
		seen := make(map[string]bool)
		for _, l := range listings {
			if dir := l.Address.SpecPath; dir != "" && !seen[dir] {
				seen[dir] = true
				items = append(items, readline.PcItem(dir))
			}
			items = append(items, readline.PcItem(l.Address.Spec()))
		}
	}

	items = append(items,
		readline.PcItem(".help"),
		readline.PcItem(".dirs"),
		readline.PcItem(".reload"),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)

	return readline.NewPrefixCompleter(items...)
}
