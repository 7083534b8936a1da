package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"umi3dconnect/internal/connecting"
	"umi3dconnect/internal/identity"
	"umi3dconnect/internal/prefs"
)

func newConnectCmd(a *app) *cobra.Command {
	var remember string

	cmd := &cobra.Command{
		Use:   "connect [host] [port]",
		Short: "Connect to an environment",
		Long:  "Connect to an environment. Without arguments the last used address is reused.",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := prefs.Open(a.cfg.Prefs.Path)
			if err != nil {
				return err
			}

			addr := connecting.ServerAddress{Host: store.IP(), Port: store.Port()}
			if len(args) > 0 {
				addr = connecting.ServerAddress{Host: args[0]}
			}
			if len(args) > 1 {
				addr.Port = args[1]
			}
			if addr.Host == "" {
				return fmt.Errorf("no address given and none saved")
			}

			if err := store.SaveIP(addr.Host); err != nil {
				return err
			}
			if err := store.SavePort(addr.Port); err != nil {
				return err
			}
			if remember != "" {
				err := store.AddFavorite(prefs.FavoriteServer{ServerName: remember, ServerURL: addr.URL()})
				if err != nil && !errors.Is(err, prefs.ErrDuplicateFavorite) {
					return err
				}
			}

			out := cmd.OutOrStdout()
			c := newClient(a.cfg, identity.NewPrompt(cmd.InOrStdin(), out), out)
			defer c.Close()
			c.menu.AdvancedConnect()
			return c.run(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&remember, "remember", "", "Save the address as a favorite under this name")
	return cmd
}
