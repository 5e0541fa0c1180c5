package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// newDraftsCmd lists drafts whose publication has not completed.
func newDraftsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drafts",
		Short: "List partially published drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := loadEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()

			journal, err := e.journal(ctx)
			if err != nil {
				return err
			}
			pending, err := journal.Pending(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(pending) == 0 {
				fmt.Fprintln(out, "No unfinished drafts.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "Draft\tTitle\tQuiz\tQuestions\tUpdated")
			for _, r := range pending {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%s\n", r.Draft.ID, r.Draft.Title, r.QuizID,
					r.QuestionsCreated, len(r.Draft.Questions), r.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
}
