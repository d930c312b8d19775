package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show event log and projection statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

type storeStats struct {
	Events       int64            `json:"events"`
	EventsByType map[string]int64 `json:"events_by_type"`
	Trees        int64            `json:"trees"`
	Nodes        int64            `json:"nodes"`
}

func runStats(cmd *cobra.Command, args []string) {
	ctx := cmd.Context()

	repoConfig, err := openRepositories(ctx)
	if err != nil {
		exitErr("connect", err)
	}
	defer repoConfig.Pool.Close()

	tables := repoConfig.Tables
	stats := storeStats{EventsByType: make(map[string]int64)}

	if err := repoConfig.Pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tables.Events)).Scan(&stats.Events); err != nil {
		exitErr("count events", err)
	}
	if err := repoConfig.Pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tables.Trees)).Scan(&stats.Trees); err != nil {
		exitErr("count trees", err)
	}
	if err := repoConfig.Pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, tables.Nodes)).Scan(&stats.Nodes); err != nil {
		exitErr("count nodes", err)
	}

	rows, err := repoConfig.Pool.Query(ctx,
		fmt.Sprintf(`SELECT event_type, COUNT(*) FROM %s GROUP BY event_type ORDER BY event_type`, tables.Events))
	if err != nil {
		exitErr("count by type", err)
	}
	defer rows.Close()
	for rows.Next() {
		var eventType string
		var count int64
		if err := rows.Scan(&eventType, &count); err != nil {
			exitErr("scan", err)
		}
		stats.EventsByType[eventType] = count
	}

	b, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b))
}
