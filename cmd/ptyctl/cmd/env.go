package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opensandbox/ptyctl/internal/runbook"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Edit remote .env files",
}

var envSetCmd = &cobra.Command{
	Use:   "set <session-id> <remote-.env> [KEY=VALUE...]",
	Short: "Set variables in a remote .env file",
	Long: `Download a remote .env file (UTF-8 or UTF-16), set the given variables while
keeping comments and other variables, and write it back as UTF-8.
Values can also come from an AWS Secrets Manager JSON secret.
Example: ptyctl env set abc123 C:\app\backend\.env PORT=5003 NODE_ENV=development`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		set := make(map[string]string)
		for _, kv := range args[2:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || strings.TrimSpace(k) == "" {
				return fmt.Errorf("invalid assignment %q (want KEY=VALUE)", kv)
			}
			set[strings.TrimSpace(k)] = v
		}
		arn, _ := cmd.Flags().GetString("secret-arn")
		keys, _ := cmd.Flags().GetStringSlice("secret-key")
		create, _ := cmd.Flags().GetBool("create")

		ctx, cancel := interruptContext()
		defer cancel()

		report, err := runSteps(ctx, args[0], "env", runbook.Step{
			Name:       "update " + args[1],
			Type:       runbook.StepEnv,
			Dest:       args[1],
			Set:        set,
			SecretARN:  arn,
			SecretKeys: keys,
			Create:     create,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s: %s\n", args[1], report.Steps[0].Output)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(envCmd)
	envCmd.AddCommand(envSetCmd)

	envSetCmd.Flags().String("secret-arn", "", "read values from this Secrets Manager secret")
	envSetCmd.Flags().StringSlice("secret-key", nil, "only take these keys from the secret")
	envSetCmd.Flags().Bool("create", false, "create the file if it does not exist")
}
