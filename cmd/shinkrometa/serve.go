package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/varoOP/shinkrometa/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the daily trending refresh",
	Long: `Serve starts the HTTP API and schedules the trending refresh at
trending_schedule (HH:MM, local time). It runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			return a.Serve()
		})
	},
}

func init() {
	serveCmd.Flags().String("host", "0.0.0.0", "address to listen on")
	serveCmd.Flags().Int("port", 7070, "port to listen on")

	viper.BindPFlag("host", serveCmd.Flags().Lookup("host"))
	viper.BindPFlag("port", serveCmd.Flags().Lookup("port"))

	rootCmd.AddCommand(serveCmd)
}
