package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"umi3dconnect/internal/media"
	"umi3dconnect/internal/prefs"
)

func newFavoritesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "favorites",
		Aliases: []string{"fav"},
		Short:   "Manage favorite servers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List favorite servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := prefs.Open(a.cfg.Prefs.Path)
			if err != nil {
				return err
			}
			if !store.HasFavorites() {
				fmt.Fprintln(cmd.OutOrStdout(), "no favorites")
				return nil
			}
			for _, fav := range store.Favorites() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", fav.ServerName, fav.ServerURL)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <host> [port]",
		Short: "Remember a server",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := prefs.Open(a.cfg.Prefs.Path)
			if err != nil {
				return err
			}
			port := ""
			if len(args) == 3 {
				port = args[2]
			}
			url := media.FormatURL(args[1], port)
			if err := store.AddFavorite(prefs.FavoriteServer{ServerName: args[0], ServerURL: url}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s)\n", args[0], url)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <url>",
		Short: "Forget a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := prefs.Open(a.cfg.Prefs.Path)
			if err != nil {
				return err
			}
			url := media.FormatURL(args[0], "")
			removed, err := store.RemoveFavorite(url)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no favorite with url %s", url)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", url)
			return nil
		},
	})

	return cmd
}
