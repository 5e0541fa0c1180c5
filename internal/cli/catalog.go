package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"quiz-client/internal/app"
	"quiz-client/internal/domain"
	"quiz-client/internal/quizapi"
)

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List published quizzes",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer e.Close()
			return renderCatalog(cmd.Context(), cmd.OutOrStdout(), e.catalog())
		},
	}
}

func renderCatalog(ctx context.Context, out io.Writer, catalog *app.Catalog) error {
	fmt.Fprintln(out, "Loading quizzes...")
	quizzes, err := catalog.List(ctx)
	if err != nil {
		fmt.Fprintf(out, "Error: %s\n", describeError(err))
		return err
	}
	if len(quizzes) == 0 {
		fmt.Fprintln(out, "No quizzes found.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTitle\tDescription")
	for _, q := range quizzes {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", q.ID, displayTitle(q), oneLine(q.Description))
	}
	return tw.Flush()
}

func displayTitle(q domain.Quiz) string {
	if strings.TrimSpace(q.Title) == "" {
		return "No Title"
	}
	return q.Title
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// describeError surfaces the HTTP status of service failures.
func describeError(err error) string {
	var apiErr *quizapi.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("%d %s", apiErr.StatusCode, apiErr.Message)
	}
	return err.Error()
}
