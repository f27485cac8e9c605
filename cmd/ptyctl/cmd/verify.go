package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/internal/verify"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <base-url>",
	Short: "Smoke-test the application's HTTP endpoints",
	Long: `Request each endpoint with bounded concurrency and report status, latency
and JSON shape. Without --path the default application endpoints are used.
Example: ptyctl verify http://100.102.217.69:5003 --path /api/health --path /api/knowledge`,
	Args: cobra.ExactArgs(1),
	Annotations: map[string]string{
		"config": "skip",
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		paths, _ := cmd.Flags().GetStringArray("path")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		headers, _ := cmd.Flags().GetStringArray("header")

		h := http.Header{}
		for _, kv := range headers {
			k, v, ok := strings.Cut(kv, ":")
			if !ok {
				return fmt.Errorf("invalid header %q (want Name: value)", kv)
			}
			h.Add(strings.TrimSpace(k), strings.TrimSpace(v))
		}

		checks, err := verify.Run(context.Background(), args[0], paths, verify.Options{
			Concurrency: concurrency,
			Timeout:     timeout,
			Header:      h,
		})
		if err != nil {
			return err
		}
		sum := verify.Summarize(checks)

		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			if err := printJSON(checks); err != nil {
				return err
			}
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RESULT\tPATH\tSTATUS\tLATENCY\tSHAPE\tROWS")
			for _, c := range checks {
				result := "PASS"
				if !c.OK {
					result = "FAIL"
				}
				rows := ""
				if c.Count >= 0 {
					rows = fmt.Sprint(c.Count)
				}
				shape := c.Shape
				if c.Error != "" && c.Status == 0 {
					shape = c.Error
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
					result, c.Path, c.Status, c.Latency.Round(time.Millisecond), shape, rows)
			}
			w.Flush()
			fmt.Printf("\n%d passed, %d failed\n", sum.Passed, sum.Failed)
		}

		if sum.Failed > 0 {
			return fmt.Errorf("%d of %d endpoints failed", sum.Failed, len(checks))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringArray("path", nil, "endpoint path to check (repeatable)")
	verifyCmd.Flags().Int("concurrency", verify.DefaultConcurrency, "parallel requests")
	verifyCmd.Flags().Duration("timeout", verify.DefaultTimeout, "per-request timeout")
	verifyCmd.Flags().StringArray("header", nil, "request header as 'Name: value' (repeatable)")
	verifyCmd.Flags().Bool("json", false, "Output as JSON")
}
