package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daxia778/tg-monitor/internal/config"
	"github.com/daxia778/tg-monitor/internal/store"
)

// purgeCmd gives an operator a way to drive Store.DeleteMessages by hand.
// The Bot API delivers no delete-event notification for the live ingest
// loop to react to (see DESIGN.md), so this is the only caller of
// DeleteMessages in the tree — a moderator removing a message from the
// local archive after the fact, not a mirror of a Telegram-side deletion.
func purgeCmd() *cobra.Command {
	var (
		groupID int64
		idsCSV  string
	)

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove specific message ids from the local archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := setupLogging()

			if groupID == 0 {
				return fmt.Errorf("--group is required")
			}
			ids, err := parseIDList(idsCSV)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return fmt.Errorf("--ids must name at least one message id")
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			st, err := store.Open(ctx, cfg.Database.Path, log)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			n, err := st.DeleteMessages(ctx, ids, groupID)
			if err != nil {
				return fmt.Errorf("purge messages: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d message(s)\n", n)
			return nil
		},
	}

	cmd.Flags().Int64Var(&groupID, "group", 0, "group id the messages belong to")
	cmd.Flags().StringVar(&idsCSV, "ids", "", "comma-separated message ids to remove")

	return cmd
}

func parseIDList(csv string) ([]int64, error) {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid message id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
