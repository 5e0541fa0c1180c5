package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"quiz-client/internal/app"
	"quiz-client/internal/domain"
)

func newCreateCmd(opts *rootOptions) *cobra.Command {
	var file, resume string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Author and publish a quiz",
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
			publisher := app.NewPublisher(e.api, journal, e.policy)
			out := cmd.OutOrStdout()

			if resume != "" {
				report, err := publisher.Resume(ctx, resume)
				return printPublish(out, report, err)
			}

			var draft *app.Draft
			if file != "" {
				draft, err = loadDraft(file)
			} else {
				draft, err = promptDraft(bufio.NewReader(cmd.InOrStdin()), out)
			}
			if err != nil {
				return err
			}
			report, err := publisher.Publish(ctx, *draft)
			return printPublish(out, report, err)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the draft from a YAML file")
	cmd.Flags().StringVar(&resume, "resume", "", "continue a partially published draft by id")
	return cmd
}

func loadDraft(path string) (*app.Draft, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	draft := app.NewDraft()
	if err := yaml.Unmarshal(data, draft); err != nil {
		return nil, fmt.Errorf("parse draft %s: %w", path, err)
	}
	return draft, nil
}

func printPublish(out io.Writer, report app.PublishReport, err error) error {
	var invalid app.ValidationErrors
	switch {
	case errors.As(err, &invalid):
		fmt.Fprintln(out, "The quiz was not sent:")
		for _, v := range invalid {
			fmt.Fprintf(out, "  - %s\n", v.Error())
		}
		return err
	case errors.Is(err, domain.ErrPartialPublish):
		fmt.Fprintf(out, "Quiz %d was created but only %d of %d questions were added.\n",
			report.QuizID, report.QuestionsCreated, report.QuestionsTotal)
		fmt.Fprintf(out, "Run: quizctl create --resume %s\n", report.DraftID)
		return err
	case err != nil:
		fmt.Fprintf(out, "Error: %s\n", describeError(err))
		return err
	}
	fmt.Fprintf(out, "Quiz %d published with %d questions.\n", report.QuizID, report.QuestionsCreated)
	return nil
}

// promptDraft walks the author through the form one field at a time.
func promptDraft(in *bufio.Reader, out io.Writer) (*app.Draft, error) {
	draft := app.NewDraft()
	ask := func(label string) (string, error) {
		fmt.Fprintf(out, "%s: ", label)
		line, err := in.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}

	var err error
	if draft.Title, err = ask("Title"); err != nil {
		return nil, err
	}
	if draft.Description, err = ask("Description"); err != nil {
		return nil, err
	}
	limit, err := ask(fmt.Sprintf("Time limit in seconds (blank for %d)", app.DefaultTimeLimitSeconds))
	if err != nil {
		return nil, err
	}
	if limit != "" {
		n, convErr := strconv.Atoi(limit)
		if convErr != nil {
			return nil, fmt.Errorf("time limit %q is not a number", limit)
		}
		draft.TimeLimitSeconds = &n
	}
	published, err := ask("Published? [Y/n]")
	if err != nil {
		return nil, err
	}
	draft.Published = !strings.EqualFold(published, "n")

	for {
		prompt, err := ask("Question prompt (blank to finish)")
		if err != nil {
			return nil, err
		}
		if !draft.AddQuestion(prompt) {
			break
		}
		idx := len(draft.Questions) - 1
		if err := promptQuestion(draft, idx, ask); err != nil {
			return nil, err
		}
	}
	return draft, nil
}

func promptQuestion(draft *app.Draft, idx int, ask func(string) (string, error)) error {
	q := &draft.Questions[idx]
	typ, err := ask("Type (mcq/short/code, blank for mcq)")
	if err != nil {
		return err
	}
	if typ != "" {
		parsed, err := domain.ParseQuestionType(typ)
		if err != nil {
			return err
		}
		q.Type = parsed
	}
	if q.CodeSnippet, err = ask("Code snippet (blank for none)"); err != nil {
		return err
	}
	if q.Type == domain.QuestionMCQ {
		q.Choices = q.Choices[:0]
		for i := 0; ; i++ {
			choice, err := ask(fmt.Sprintf("Choice %d (blank to finish)", i+1))
			if err != nil {
				return err
			}
			if choice == "" {
				break
			}
			q.Choices = append(q.Choices, choice)
		}
	} else {
		q.Choices = nil
	}
	q.CorrectAnswer, err = ask("Correct answer")
	return err
}
