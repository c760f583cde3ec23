package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/studiocloud/mailprobe/config"
)

var (
	// Global configuration
	cfg config.Config

	// Flag overrides
	proxiesFlag string
	heloFlag    string

	rootCmd = &cobra.Command{
		Use:   "mailprobe",
		Short: "Mailprobe email deliverability checker",
		Long: `Mailprobe verifies email deliverability by probing the recipient's
mail infrastructure: syntax, DNS, MX, SPF and a live SMTP conversation
up to the RCPT stage, without sending mail.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cfg = config.Load()
			if proxiesFlag != "" {
				cfg.ProxiesFile = proxiesFlag
			}
			if heloFlag != "" {
				cfg.HeloHost = heloFlag
			}
		},
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&proxiesFlag, "proxies", "", "Path to SOCKS5 proxies file (overrides PROXIES_FILE)")
	rootCmd.PersistentFlags().StringVar(&heloFlag, "helo", "", "Hostname presented in EHLO/HELO (overrides HELO_HOST)")
}
