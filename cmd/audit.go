package cmd

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/michaelpento.lv/flashvault/audit"
	"github.com/michaelpento.lv/flashvault/cmd/node"
	"github.com/michaelpento.lv/flashvault/utils"
)

var (
	replayAfter uint64
	replayType  string
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit journal",
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Print journaled events after an index",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer utils.CleanupLogger()

		journal, err := audit.OpenJournal(node.JournalConfig(cfg.Audit), log.Named("journal"))
		if err != nil {
			return err
		}
		defer journal.Close()

		records, err := journal.Replay(replayAfter)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range records {
			if replayType != "" && r.Type != replayType {
				continue
			}
			fmt.Fprintf(out, "%d %s %s\n", r.Index, r.Type, formatAttrs(r.Attrs))
		}
		return nil
	},
}

func formatAttrs(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+attrs[k])
	}
	return strings.Join(parts, " ")
}

func init() {
	replayCmd.Flags().Uint64Var(&replayAfter, "after", 0, "only events with a higher index")
	replayCmd.Flags().StringVar(&replayType, "type", "", "only events of this type, e.g. loan.executed")
	auditCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(auditCmd)
}
