package cli

import (
	"fmt"

	"roadmap/api/internal/roadmap"

	"github.com/spf13/cobra"
)

func newRoadmapsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roadmaps",
		Short: "List, create, show and delete roadmaps",
	}
	cmd.AddCommand(newRoadmapsListCmd(app))
	cmd.AddCommand(newRoadmapsCreateCmd(app))
	cmd.AddCommand(newRoadmapsShowCmd(app))
	cmd.AddCommand(newRoadmapsEditCmd(app))
	cmd.AddCommand(newRoadmapsDeleteCmd(app))
	return cmd
}

func newRoadmapsListCmd(app *App) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List roadmaps, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.commandContext(cmd)
			defer cancel()
			page, err := app.client().ListRoadmaps(ctx, limit, offset)
			if err != nil {
				return err
			}
			if app.wantJSON() {
				return writeJSON(cmd, app, page)
			}
			return renderRoadmapList(cmd.OutOrStdout(), page)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (server default 20, max 100)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of roadmaps to skip")
	return cmd
}

func newRoadmapsCreateCmd(app *App) *cobra.Command {
	var in roadmap.RoadmapInput
	var additional string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a roadmap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("additional-info") {
				in.AdditionalInfo = &additional
			}
			ctx, cancel := app.commandContext(cmd)
			defer cancel()
			created, err := app.client().CreateRoadmap(ctx, in)
			if err != nil {
				return err
			}
			if app.wantJSON() {
				return writeJSON(cmd, app, created)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Created roadmap %s (%s)\n", created.ID, created.Title)
			return err
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "Roadmap title")
	cmd.Flags().StringVar(&in.ExperienceLevel, "experience-level", "", "Experience level, e.g. beginner")
	cmd.Flags().StringVar(&in.Technology, "technology", "", "Technology being learned")
	cmd.Flags().StringVar(&in.Goals, "goals", "", "Learning goals")
	cmd.Flags().StringVar(&additional, "additional-info", "", "Free form notes")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newRoadmapsShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <roadmap-id>",
		Short: "Show a roadmap with its item tree and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.commandContext(cmd)
			defer cancel()
			details, err := app.client().GetRoadmap(ctx, args[0])
			if err != nil {
				return err
			}
			if app.wantJSON() {
				return writeJSON(cmd, app, details)
			}
			return renderTree(cmd.OutOrStdout(), details.Title, roadmap.BuildTree(details.Items), details.Progress)
		},
	}
}

func newRoadmapsEditCmd(app *App) *cobra.Command {
	var title, level, technology, goals, additional string
	cmd := &cobra.Command{
		Use:   "edit <roadmap-id>",
		Short: "Change roadmap fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch roadmap.RoadmapPatch
			flags := cmd.Flags()
			for name, target := range map[string]struct {
				dst **string
				val *string
			}{
				"title":            {&patch.Title, &title},
				"experience-level": {&patch.ExperienceLevel, &level},
				"technology":       {&patch.Technology, &technology},
				"goals":            {&patch.Goals, &goals},
				"additional-info":  {&patch.AdditionalInfo, &additional},
			} {
				if flags.Changed(name) {
					*target.dst = target.val
				}
			}
			if patch == (roadmap.RoadmapPatch{}) {
				return fmt.Errorf("nothing to change: pass at least one field flag")
			}

			ctx, cancel := app.commandContext(cmd)
			defer cancel()
			updated, err := app.client().UpdateRoadmap(ctx, args[0], patch)
			if err != nil {
				return err
			}
			if app.wantJSON() {
				return writeJSON(cmd, app, updated)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Updated roadmap %s (%s)\n", updated.ID, updated.Title)
			return err
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&level, "experience-level", "", "New experience level")
	cmd.Flags().StringVar(&technology, "technology", "", "New technology")
	cmd.Flags().StringVar(&goals, "goals", "", "New goals")
	cmd.Flags().StringVar(&additional, "additional-info", "", "New notes")
	return cmd
}

func newRoadmapsDeleteCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <roadmap-id>",
		Short: "Delete a roadmap and all of its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.commandContext(cmd)
			defer cancel()
			if err := app.client().DeleteRoadmap(ctx, args[0]); err != nil {
				return err
			}
			if app.wantJSON() {
				return writeJSON(cmd, app, map[string]string{"deleted": args[0]})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted roadmap %s\n", args[0])
			return err
		},
	}
}
