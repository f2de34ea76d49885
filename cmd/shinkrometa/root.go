package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/varoOP/shinkrometa/internal/app"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shinkrometa",
	Short: "A metadata service for movies, series and anime",
	Long: `ShinkroMeta resolves movie, series and anime metadata from TMDB,
MyAnimeList and AniList, caches it in SQLite and keeps a cross-source
identifier map between MAL, AniDB, TVDB, TMDB and IMDb ids.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.shinkrometa.yaml or ./config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", ".", "directory holding the database and the anime list")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-path", "", "also write logs to this file, rotated")

	viper.BindPFlag("data_dir", rootCmd.PersistentFlags().Lookup("data-dir"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_path", rootCmd.PersistentFlags().Lookup("log-path"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".shinkrometa")
	}

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	} else if cfgFile == "" {
		// fall back to ./config.yaml
		viper.SetConfigName("config")
		if err := viper.ReadInConfig(); err == nil {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// withApp builds the application for one command and closes it afterwards.
func withApp(fn func(a *app.App) error) error {
	a, err := app.NewApp(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer a.Close()

	return fn(a)
}
