package cmd

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/pkg/client"
)

var uploadCmd = &cobra.Command{
	Use:   "upload <session-id> <local-file> <remote-path>",
	Short: "Write a local file to the remote machine through the terminal",
	Long: `Send a file as base64 chunks appended to a remote temp file, decode it in
place and compare SHA-256 hashes. Use - to read from stdin.
Example: ptyctl upload abc123 seed.py C:\Users\User\seed.py --compress`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, local, remote := args[0], args[1], args[2]

		var data []byte
		var err error
		if local == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(local)
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", local, err)
		}

		compress, _ := cmd.Flags().GetBool("compress")
		noVerify, _ := cmd.Flags().GetBool("no-verify")
		chunkSize, _ := cmd.Flags().GetInt("chunk-size")
		if chunkSize <= 0 {
			chunkSize = cfg.ChunkSize
		}

		opts := []client.TransferOption{
			client.WithChunkDelay(cfg.ChunkDelay),
			client.WithTransferWait(cfg.WaitOptions()),
			client.WithProgress(func(sent, total int) {
				fmt.Fprintf(os.Stderr, "\r  chunk %d/%d", sent, total)
				if sent == total {
					fmt.Fprintln(os.Stderr)
				}
			}),
		}
		if compress {
			opts = append(opts, client.WithCompression())
		}
		if noVerify {
			opts = append(opts, client.WithoutVerify())
		}

		c := newClient()
		ctx, cancel := interruptContext()
		defer cancel()

		t, err := c.SendLargePayload(ctx, id, data, remote, chunkSize, opts...)
		if t != nil {
			if j := openJournal(); j != nil {
				msg := ""
				if err != nil {
					msg = err.Error()
				}
				if jerr := j.LogTransfer(id, t, msg); jerr != nil {
					log.Printf("journal: %v", jerr)
				}
			}
		}
		if err != nil {
			return fmt.Errorf("failed to upload: %w", err)
		}

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return printJSON(t)
		}
		fmt.Printf("✓ Uploaded %s (%d bytes, %d chunks, %s)\n", remote, t.Size, t.Chunks, t.State)
		if t.RemoteSHA256 != "" {
			fmt.Printf("  sha256: %s\n", t.RemoteSHA256)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <session-id> <remote-path> [local-file]",
	Short: "Read a remote file through the terminal",
	Long: `Dump a remote file as base64 and decode it locally. Without a local file the
content is written to stdout.`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, remote := args[0], args[1]

		c := newClient()
		ctx, cancel := commandContext()
		defer cancel()

		data, err := c.Download(ctx, id, remote, cfg.WaitOptions())
		if err != nil {
			return fmt.Errorf("failed to download: %w", err)
		}

		if len(args) < 3 || args[2] == "-" {
			_, err := os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(args[2], data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", args[2], err)
		}
		fmt.Printf("✓ Downloaded %s to %s (%d bytes)\n", remote, args[2], len(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)

	uploadCmd.Flags().Bool("compress", false, "gzip before encoding")
	uploadCmd.Flags().Bool("no-verify", false, "skip the remote SHA-256 check")
	uploadCmd.Flags().Int("chunk-size", 0, "base64 characters per chunk (default from config)")
	uploadCmd.Flags().Bool("json", false, "Output as JSON")
}
