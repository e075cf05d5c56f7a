package cli

import (
	"strings"

	"github.com/spf13/cobra"
)

func newSearchCmd(app *App) *cobra.Command {
	var roadmapID string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full text search over roadmaps and items",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.commandContext(cmd)
			defer cancel()
			resp, err := app.client().Search(ctx, strings.Join(args, " "), roadmapID, limit)
			if err != nil {
				return err
			}
			if app.wantJSON() {
				return writeJSON(cmd, app, resp)
			}
			return renderSearch(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&roadmapID, "roadmap", "", "Only search within this roadmap")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")
	return cmd
}
