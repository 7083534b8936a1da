package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"umi3dconnect/internal/connecting"
	"umi3dconnect/internal/discovery"
	"umi3dconnect/internal/identity"
)

func newSessionsCmd(a *app) *cobra.Command {
	var (
		masterAddr string
		lan        bool
		listOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "sessions [pin]",
		Short: "List live sessions matching a pin and join one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pin := a.cfg.Identity.Pin
			if len(args) > 0 {
				pin = args[0]
			}
			if masterAddr == "" {
				masterAddr = a.cfg.Discovery.MasterAddr
			}

			var q discovery.Querier = discovery.NewClient(masterAddr, a.cfg.Discovery.WaitTimeout)
			if lan {
				q = discovery.NewLANBrowser()
			}

			out := cmd.OutOrStdout()
			prompt := identity.NewPrompt(cmd.InOrStdin(), out)
			c := newClient(a.cfg, prompt, out)
			defer c.Close()

			list, err := c.menu.LoadSessions(cmd.Context(), q, pin)
			if err != nil {
				msg, _ := c.menu.Message()
				if msg != "" {
					fmt.Fprintln(out, msg)
				}
				return err
			}

			for i, s := range list {
				fmt.Fprintf(out, "%2d) %-24s %s  players: %d\n", i+1, s.Name, s.URL(), s.PlayerCount)
			}
			if listOnly {
				return nil
			}

			for !c.menu.CanNext() {
				raw, err := prompt.Ask(cmd.Context(), "session number")
				if err != nil {
					return err
				}
				n, err := strconv.Atoi(raw)
				if err != nil || n < 1 || n > len(list) {
					fmt.Fprintln(out, "pick a number from the list")
					continue
				}
				c.menu.Toggle(n - 1)
			}

			picked, err := c.menu.Next()
			if err != nil {
				return err
			}
			host, port := picked.Host()
			return c.run(cmd.Context(), connecting.ServerAddress{Host: host, Port: port})
		},
	}
	cmd.Flags().StringVar(&masterAddr, "master", "", "Master server address (host:port)")
	cmd.Flags().BoolVar(&lan, "lan", false, "Browse the local network instead of asking a master server")
	cmd.Flags().BoolVar(&listOnly, "list", false, "Only list sessions")
	return cmd
}
