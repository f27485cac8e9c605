package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/opensandbox/ptyctl/internal/termtext"
	"github.com/opensandbox/ptyctl/pkg/client"
	"github.com/opensandbox/ptyctl/pkg/types"
)

// detachKey is Ctrl-].
const detachKey = 0x1d

var tailCmd = &cobra.Command{
	Use:   "tail [session-id]",
	Short: "Follow a session's output over the bridge WebSocket",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionID(args)
		if err != nil {
			return err
		}
		noBuffer, _ := cmd.Flags().GetBool("no-buffer")
		clean, _ := cmd.Flags().GetBool("clean")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		stream, err := newClient().OpenStream(ctx, cfg.StreamURL, id)
		if err != nil {
			return fmt.Errorf("failed to open stream: %w", err)
		}
		go func() {
			<-ctx.Done()
			stream.Close()
		}()

		return pump(ctx, stream, func(f *types.StreamFrame) {
			if f.Type == types.FrameBuffer && noBuffer {
				return
			}
			text := f.Text()
			if clean {
				text = termtext.Clean(text, cfg.StripMode)
			}
			fmt.Print(text)
		})
	},
}

var attachCmd = &cobra.Command{
	Use:   "attach [session-id]",
	Short: "Attach the local terminal to a session (detach with Ctrl-])",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := sessionID(args)
		if err != nil {
			return err
		}
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return fmt.Errorf("attach needs an interactive terminal")
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stream, err := newClient().OpenStream(ctx, cfg.StreamURL, id)
		if err != nil {
			return fmt.Errorf("failed to open stream: %w", err)
		}
		defer stream.Close()

		if cols, rows, err := term.GetSize(fd); err == nil {
			stream.Resize(cols, rows)
		}

		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("failed to enter raw mode: %w", err)
		}
		defer term.Restore(fd, state)

		go func() {
			defer cancel()
			buf := make([]byte, 1024)
			for {
				n, err := os.Stdin.Read(buf)
				if err != nil {
					return
				}
				for i := 0; i < n; i++ {
					if buf[i] == detachKey {
						if i > 0 {
							stream.SendInput(string(buf[:i]))
						}
						return
					}
				}
				if err := stream.SendInput(string(buf[:n])); err != nil {
					return
				}
			}
		}()
		go func() {
			<-ctx.Done()
			stream.Close()
		}()

		err = pump(ctx, stream, func(f *types.StreamFrame) {
			os.Stdout.WriteString(f.Text())
		})
		term.Restore(fd, state)
		fmt.Fprintf(os.Stderr, "\r\ndetached from %s\r\n", id)
		return err
	},
}

// pump reads frames until the session exits or ctx ends. Buffer and output
// frames go to emit.
func pump(ctx context.Context, stream *client.Stream, emit func(*types.StreamFrame)) error {
	for {
		f, err := stream.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("stream closed: %w", err)
		}
		switch f.Type {
		case types.FrameBuffer, types.FrameOutput:
			emit(f)
		case types.FrameExit:
			code := f.ExitCode()
			fmt.Fprintf(os.Stderr, "\r\nsession %s exited with %d\r\n", stream.SessionID(), code)
			if code > 0 {
				return &ExitError{Code: code}
			}
			return nil
		case types.FrameError:
			return fmt.Errorf("bridge: %s", f.Text())
		}
	}
}

func init() {
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(attachCmd)

	tailCmd.Flags().Bool("no-buffer", false, "skip the scrollback sent on subscribe")
	tailCmd.Flags().Bool("clean", false, "strip terminal escape sequences")
}
