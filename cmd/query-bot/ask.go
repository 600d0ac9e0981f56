package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	apperrors "github.com/seanankenbruck/mongo-query-bot/internal/errors"
	"github.com/seanankenbruck/mongo-query-bot/internal/observability"
	"github.com/seanankenbruck/mongo-query-bot/internal/processor"
)

const separator = "======================================================================"

type answerer interface {
	ProcessQuestion(ctx context.Context, req *processor.QueryRequest) (*processor.QueryResponse, error)
}

func newAskCmd() *cobra.Command {
	var (
		question   string
		collection string
		user       string
		showQuery  bool
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask questions interactively, or once with --question",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// The CLI never issues tokens.
			cfg, err := loadConfig(ctx, "Auth.")
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging, "query-bot")
			// keep the terminal readable
			logger.WithOutput(os.Stderr).WithLevel(observability.LevelWarn)

			a, err := buildApp(ctx, cfg, logger, appOptions{semanticStore: semanticStoreFlag})
			if err != nil {
				return err
			}
			defer a.Close()

			s := &askSession{
				bot:        a.processor,
				collection: collection,
				user:       user,
				showQuery:  showQuery,
				out:        cmd.OutOrStdout(),
			}
			if question != "" {
				return s.askOnce(ctx, question)
			}
			return s.repl(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "Answer one question and exit")
	cmd.Flags().StringVarP(&collection, "collection", "c", "", "Collection to query (default milk_collections)")
	cmd.Flags().StringVar(&user, "user", "", "Record history under this user ID")
	cmd.Flags().BoolVar(&showQuery, "show-query", false, "Print the generated query above each answer")
	return cmd
}

type askSession struct {
	bot        answerer
	collection string
	user       string
	showQuery  bool
	out        io.Writer
}

func (s *askSession) askOnce(ctx context.Context, question string) error {
	resp, err := s.bot.ProcessQuestion(ctx, &processor.QueryRequest{
		Question:   question,
		Collection: s.collection,
		UserID:     s.user,
	})
	if err != nil {
		return err
	}
	s.printAnswer(resp)
	return nil
}

func (s *askSession) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(s.out, " Welcome to MongoDB Bot ")
	fmt.Fprintln(s.out, "\n Query bot is ready!")
	fmt.Fprint(s.out, "Type 'samples' to see example questions, or 'quit' to exit.\n\n")

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, " Your question: ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())

		switch strings.ToLower(input) {
		case "quit", "exit", "bye":
			fmt.Fprintln(s.out, "Goodbye!")
			return nil
		case "samples":
			s.printSamples()
			continue
		case "":
			continue
		}

		fmt.Fprintln(s.out, "\n"+separator)
		resp, err := s.bot.ProcessQuestion(ctx, &processor.QueryRequest{
			Question:   input,
			Collection: s.collection,
			UserID:     s.user,
		})
		if err != nil {
			s.printError(err)
		} else {
			s.printAnswer(resp)
		}
		fmt.Fprint(s.out, separator+"\n\n")

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *askSession) printSamples() {
	fmt.Fprintln(s.out, "\n--- Sample Questions You Can Ask ---")
	for i, q := range processor.SampleQuestions() {
		fmt.Fprintf(s.out, "%d. %s\n", i+1, q)
	}
	fmt.Fprint(s.out, "-------------------------------------\n\n")
}

func (s *askSession) printAnswer(resp *processor.QueryResponse) {
	if s.showQuery {
		fmt.Fprintf(s.out, "\n Query:\n%s\n", resp.QueryText)
	}
	fmt.Fprintf(s.out, "\n Answer:\n%s\n", resp.Answer)
	if resp.ResultMetadata != nil && len(resp.ResultMetadata.NextSteps) > 0 {
		fmt.Fprintln(s.out)
		for _, step := range resp.ResultMetadata.NextSteps {
			fmt.Fprintf(s.out, " - %s\n", step)
		}
	}
}

func (s *askSession) printError(err error) {
	if e, ok := apperrors.As(err); ok {
		fmt.Fprintf(s.out, "\n Error: %s\n", e.UserMessage())
		return
	}
	fmt.Fprintf(s.out, "\n Error: %v\n", err)
}
