package cmd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jmcleod/pagelock/guard"
	"github.com/jmcleod/pagelock/lock"
)

var guardCmd = &cobra.Command{
	Use:   "guard",
	Short: "Open a terminal page guarded by the session lock",
	Long: `Opens a page in the terminal that follows the server's lock state.
While locked it asks for the password; while unlocked each line you enter
counts as activity. Type "lock" or "quit".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		defer memguard.Purge()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client := newClient(cfg)
		logger := cfg.Log.NewLogger(os.Stderr)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		surface := newTerminalSurface(cmd.OutOrStdout())
		g := guard.New(client, client, surface,
			guard.WithHeartbeatInterval(cfg.HeartbeatInterval.Duration),
			guard.WithLogger(logger),
		)
		if err := g.Start(ctx); err != nil {
			return err
		}
		go func() {
			if err := g.Watch(ctx, client); err != nil {
				logger.Warn("event stream closed", "error", err)
			}
		}()

		in := bufio.NewReader(os.Stdin)
		for ctx.Err() == nil {
			if g.Locked() {
				view := g.View()
				secret, err := readSecret(in, cmd.OutOrStdout(), prompt(view))
				if err != nil {
					return ignoreEOF(err)
				}
				buf := memguard.NewBufferFromBytes(secret)
				if view == guard.ViewLock {
					err = g.AttemptUnlock(ctx, buf)
				} else {
					err = g.SetPassword(ctx, buf)
				}
				if err != nil && !errors.Is(err, guard.ErrAuthMismatch) {
					logger.Debug("unlock attempt failed", "error", err)
				}
				continue
			}

			line, err := in.ReadString('\n')
			if err != nil {
				return ignoreEOF(err)
			}
			g.Activity(ctx)
			switch strings.TrimSpace(line) {
			case "lock":
				err = client.LockRequested(ctx)
			case "quit", "exit":
				return nil
			}
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(guardCmd)
}

func prompt(view guard.View) string {
	if view == guard.ViewLock {
		return "Password: "
	}
	return fmt.Sprintf("New password (min %d characters): ", lock.MinPasswordLength)
}

var stdinIsTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// readSecret reads a line without echo when stdin is a terminal.
func readSecret(in *bufio.Reader, out io.Writer, label string) ([]byte, error) {
	fmt.Fprint(out, label)
	if stdinIsTerminal() {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(out)
		return b, err
	}
	line, err := in.ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// terminalSurface renders the guard as lines of text.
type terminalSurface struct {
	mu  sync.Mutex
	out io.Writer
}

var _ guard.Surface = (*terminalSurface)(nil)

func newTerminalSurface(out io.Writer) *terminalSurface {
	return &terminalSurface{out: out}
}

func (s *terminalSurface) println(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

func (s *terminalSurface) Render(view guard.View) {
	s.println("\n\x1b[31m== Session locked ==\x1b[0m")
	s.describe(view)
}

func (s *terminalSurface) SwitchView(view guard.View) {
	s.describe(view)
}

func (s *terminalSurface) describe(view guard.View) {
	switch view {
	case guard.ViewCreate:
		s.println("No password is set yet. Choose one to continue.")
	case guard.ViewReset:
		s.println("A password reset was authorized. Choose a new password.")
	default:
		s.println("Enter your password to unlock.")
	}
}

func (s *terminalSurface) Remove() {
	s.println("\x1b[32m== Session unlocked ==\x1b[0m  (lock | quit)")
}

func (s *terminalSurface) ShowError(msg string) {
	s.println("\x1b[33m%s\x1b[0m", msg)
}

// ClearInput is a no-op: the terminal never echoes the password.
func (s *terminalSurface) ClearInput() {}

func (s *terminalSurface) OfferBiometric() {
	s.println("Biometric unlock is available from the browser page.")
}
