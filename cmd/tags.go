package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/drgolem/streamplayer/pkg/rpcclient"
)

var (
	tagsServer       string
	tagsCAFile       string
	tagsItemsPerPage uint64
	tagsPage         uint64
)

// tagsCmd represents the tags command
var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "List audio tags known to a streamplayer server",
	Long: `Page through the tag index a streamplayer server exposes.

Examples:
  streamplayer tags --server localhost:50051 --page 0 --items-per-page 20`,
	Run: runTags,
}

func init() {
	rootCmd.AddCommand(tagsCmd)

	tagsCmd.Flags().StringVar(&tagsServer, "server", "localhost:50051", "Streaming server endpoint (host:port)")
	tagsCmd.Flags().StringVar(&tagsCAFile, "ca-file", "", "Optional PEM trust root for TLS (plaintext if empty)")
	tagsCmd.Flags().Uint64Var(&tagsItemsPerPage, "items-per-page", 20, "Page size")
	tagsCmd.Flags().Uint64Var(&tagsPage, "page", 0, "Page number (0-indexed)")
}

func runTags(cmd *cobra.Command, args []string) {
	client, err := rpcclient.Dial(rpcclient.ServerState{Endpoint: tagsServer, CAFile: tagsCAFile})
	if err != nil {
		slog.Error("Failed to dial server", "server", tagsServer, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	items, err := client.GetAudioTags(context.Background(), tagsItemsPerPage, tagsPage)
	if err != nil {
		slog.Error("Failed to fetch audio tags", "error", err)
		os.Exit(1)
	}

	for _, item := range items {
		fmt.Printf("%-12s %-30s %-20s %-20s %6.1fs\n", item.Id, item.Title, item.Artist, item.Album, item.DurationSec)
	}
}
