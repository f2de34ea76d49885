package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/varoOP/shinkrometa/internal/app"
)

var refreshTrendingCmd = &cobra.Command{
	Use:   "refresh-trending",
	Short: "Recompute the trending snapshot once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			if err := a.RefreshTrending(cmd.Context()); err != nil {
				return fmt.Errorf("refresh trending failed: %w", err)
			}
			return nil
		})
	},
}

var updateAnimeListCmd = &cobra.Command{
	Use:   "update-animelist",
	Short: "Download the anime list used to classify titles",
	Long: `Download the AniDB to TVDB/TMDB anime list from anime_list_url and
store it at anime_list_path. Send SIGHUP to a running server to swap it in
without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			return a.UpdateAnimeList(cmd.Context())
		})
	},
}

var seedMappingsCmd = &cobra.Command{
	Use:   "seed-mappings <file>",
	Short: "Import identifier mappings from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			n, err := a.SeedMappings(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("seed mappings failed: %w", err)
			}
			fmt.Printf("Seeded %d mappings\n", n)
			return nil
		})
	},
}

var exportMappingsCmd = &cobra.Command{
	Use:   "export-mappings <file>",
	Short: "Write the identifier map to a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			n, err := a.ExportMappings(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("export mappings failed: %w", err)
			}
			fmt.Printf("Exported %d mappings\n", n)
			return nil
		})
	},
}

var pruneCacheCmd = &cobra.Command{
	Use:   "prune-cache",
	Short: "Delete expired entries from the resolution cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app.App) error {
			n, err := a.PruneCache(cmd.Context())
			if err != nil {
				return fmt.Errorf("prune cache failed: %w", err)
			}
			fmt.Printf("Deleted %d expired entries\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(refreshTrendingCmd, updateAnimeListCmd, seedMappingsCmd, exportMappingsCmd, pruneCacheCmd)
}
