package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"loom/internal/repository/postgres"
)

var tailSince int64

func init() {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events after a sequence number",
		Run:   runTail,
	}
	cmd.Flags().Int64VarP(&tailSince, "since", "s", 0, "Only events with a strictly greater sequence number")

	RootCmd.AddCommand(cmd)
}

func runTail(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	repoConfig, err := openRepositories(ctx)
	if err != nil {
		exitErr("connect", err)
	}
	defer repoConfig.Pool.Close()

	eventStore := postgres.NewEventStore(repoConfig)
	envelopes, err := eventStore.GetEventsSince(ctx, tailSince)
	if err != nil {
		exitErr("tail", err)
	}

	for _, env := range envelopes {
		line, err := json.Marshal(env)
		if err != nil {
			exitErr("encode", err)
		}
		fmt.Println(string(line))
	}
}
