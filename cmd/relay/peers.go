package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/javelin/internal/directory"
)

var peersDirectory string

var peersCmd = &cobra.Command{
	Use:   "peers",
	Short: "Inspect and edit the peer directory",
}

var peersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered peers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		peers, err := directory.ListPath(cmd.Context(), peersDirectory)
		if err != nil {
			return err
		}
		if len(peers) == 0 {
			fmt.Println(color.YellowString("No peers in %s", peersDirectory))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, color.CyanString("NAME")+"\t"+color.CyanString("ENDPOINTS"))
		for _, peer := range peers {
			endpoints := strings.Join(peer.EndpointList(), ",")
			if endpoints == "" {
				endpoints = "-"
			}
			fmt.Fprintf(w, "%s\t%s\n", peer.Name, endpoints)
		}
		return w.Flush()
	},
}

var peersRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a peer, revoking its token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := directory.Remove(cmd.Context(), peersDirectory, args[0]); err != nil {
			return err
		}
		fmt.Println(color.GreenString("Removed %s", args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(peersCmd)
	peersCmd.AddCommand(peersListCmd, peersRemoveCmd)

	defaultDirectory := os.Getenv("RELAY_DIRECTORY")
	if defaultDirectory == "" {
		defaultDirectory = "servers.json"
	}
	peersCmd.PersistentFlags().StringVar(&peersDirectory, "directory", defaultDirectory, "Peer directory (.json or .db)")
}
