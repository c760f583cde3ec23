package commands

import (
	"github.com/spf13/cobra"

	"github.com/studiocloud/mailprobe"
	"github.com/studiocloud/mailprobe/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the validation HTTP server",
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

		return server.New(v, cfg, log).Listen()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
