package commands

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiocloud/mailprobe"
)

var checkCmd = &cobra.Command{
	Use:   "check <email> [email ...]",
	Short: "Validate one or more addresses and print the results as JSON",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		log := cfg.NewLogger()

		v, err := mailprobe.New(mailprobe.Options{
			HeloHost:    cfg.HeloHost,
			ProxiesFile: cfg.ProxiesFile,
			Logger:      log,
		})
		if err != nil {
			return err
		}

		results := v.ValidateMany(cmd.Context(), args)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
