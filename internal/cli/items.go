package cli

import (
	"context"
	"fmt"

	"roadmap/api/internal/editor"
	"roadmap/api/internal/roadmap"

	"github.com/spf13/cobra"
)

func newItemsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Edit the items of a roadmap",
		Long: `Each items command loads the roadmap's items, applies one change and
prints the resulting tree. When the server rejects the change nothing is
printed but the error, and the command exits non-zero.`,
	}
	cmd.AddCommand(newItemsListCmd(app))
	cmd.AddCommand(newItemsAddCmd(app))
	cmd.AddCommand(newItemsEditCmd(app))
	cmd.AddCommand(newItemsCompletionCmd(app, "done", "Mark an item and its descendants completed", true))
	cmd.AddCommand(newItemsCompletionCmd(app, "undone", "Mark an item and its descendants not completed", false))
	cmd.AddCommand(newItemsToggleCmd(app))
	cmd.AddCommand(newItemsRemoveCmd(app))
	cmd.AddCommand(newItemsMoveCmd(app))
	return cmd
}

// runEditor opens an editor on roadmapID, runs act and prints the outcome.
// act may be nil to only print the current tree.
func runEditor(cmd *cobra.Command, app *App, roadmapID string, act func(context.Context, *editor.Editor)) error {
	ctx, cancel := app.commandContext(cmd)
	defer cancel()

	c := app.client()
	ed, err := editor.Open(ctx, roadmapID, c, c, editor.WithLogger(app.logger))
	if err != nil {
		return err
	}
	defer ed.Close()

	if act != nil {
		act(ctx, ed)
		if err := ed.Err(); err != nil {
			return err
		}
	}
	return writeEditor(cmd, app, ed)
}

func writeEditor(cmd *cobra.Command, app *App, ed *editor.Editor) error {
	tree := ed.Tree()
	progress := roadmap.CalculateProgress(tree)
	if app.wantJSON() {
		return writeJSON(cmd, app, struct {
			RoadmapID string              `json:"roadmap_id"`
			Items     []*roadmap.ItemView `json:"items"`
			Progress  float64             `json:"progress"`
		}{ed.RoadmapID(), tree, progress})
	}
	return renderTree(cmd.OutOrStdout(), "Roadmap "+ed.RoadmapID(), tree, progress)
}

func newItemsListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "list <roadmap-id>",
		Aliases: []string{"ls"},
		Short:   "Print the item tree",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEditor(cmd, app, args[0], nil)
		},
	}
}

func newItemsAddCmd(app *App) *cobra.Command {
	var title, description, parent string
	cmd := &cobra.Command{
		Use:   "add <roadmap-id>",
		Short: "Append an item to the end of its sibling group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := editor.AddInput{Title: title, Description: description}
			if parent != "" {
				in.ParentID = &parent
			}
			return runEditor(cmd, app, args[0], func(ctx context.Context, ed *editor.Editor) {
				ed.AddItem(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Item title")
	cmd.Flags().StringVar(&description, "description", "", "Item description")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent item id (omit for a root item)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newItemsEditCmd(app *App) *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "edit <roadmap-id> <item-id>",
		Short: "Change an item's title or description",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd editor.ItemUpdate
			if cmd.Flags().Changed("title") {
				upd.Title = &title
			}
			if cmd.Flags().Changed("description") {
				upd.Description = &description
			}
			if upd.Title == nil && upd.Description == nil {
				return fmt.Errorf("nothing to change: pass --title or --description")
			}
			return runEditor(cmd, app, args[0], func(ctx context.Context, ed *editor.Editor) {
				ed.UpdateItem(ctx, args[1], upd)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&description, "description", "", "New description")
	return cmd
}

func newItemsCompletionCmd(app *App, use, short string, completed bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <roadmap-id> <item-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEditor(cmd, app, args[0], func(ctx context.Context, ed *editor.Editor) {
				ed.UpdateItem(ctx, args[1], editor.ItemUpdate{IsCompleted: &completed})
			})
		},
	}
}

func newItemsToggleCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <roadmap-id> <item-id>",
		Short: "Flip the completion state of an item and its descendants",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEditor(cmd, app, args[0], func(ctx context.Context, ed *editor.Editor) {
				ed.ToggleCompletion(ctx, args[1])
			})
		},
	}
}

func newItemsRemoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <roadmap-id> <item-id>",
		Aliases: []string{"delete"},
		Short:   "Delete an item and everything under it",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEditor(cmd, app, args[0], func(ctx context.Context, ed *editor.Editor) {
				ed.DeleteItem(ctx, args[1])
			})
		},
	}
}

func newItemsMoveCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:       "move <roadmap-id> <item-id> up|down",
		Short:     "Swap an item with its previous or next sibling",
		Args:      cobra.ExactArgs(3),
		ValidArgs: []string{string(roadmap.DirectionUp), string(roadmap.DirectionDown)},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := roadmap.ParseDirection(args[2])
			if err != nil {
				return err
			}
			return runEditor(cmd, app, args[0], func(ctx context.Context, ed *editor.Editor) {
				ed.MoveItem(ctx, args[1], dir)
			})
		},
	}
}
