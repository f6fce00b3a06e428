package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/docsense/docsense/internal/config"
	docerrors "github.com/docsense/docsense/internal/errors"
	"github.com/docsense/docsense/internal/generate"
	"github.com/docsense/docsense/internal/logging"
	"github.com/docsense/docsense/internal/search"
)

func newQueryCmd() *cobra.Command {
	var docID string

	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Ask a question against the local index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			logger, cleanup, err := logging.Setup(logging.Config{Level: "warn"})
			if err != nil {
				return err
			}
			defer cleanup()

			a, err := buildApp(cfg, logger)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			cleaned, filters := search.Analyse(question)
			if docID != "" {
				filters.DocIDs = []string{docID}
			}

			result, err := a.searcher.Search(ctx, cleaned, filters, 0)
			if err != nil {
				return err
			}

			assembled, err := a.assembler.Assemble(ctx, result.Candidates)
			if err != nil {
				if docerrors.CodeOf(err) == docerrors.CodeEmptyContext {
					fmt.Fprintln(out, "No relevant content found in the indexed documents.")
					return nil
				}
				return err
			}

			system, user := generate.BuildAnswerPrompt(question, assembled)
			answer, err := a.gateway.Chat(ctx, system, user, func(token string) {
				fmt.Fprint(out, token)
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, "\nSources:")
			for _, cit := range assembled.Citations {
				name := cit.SourceFile
				if name == "" {
					name = cit.DocID
				}
				fmt.Fprintf(out, "  %s, page %d", name, cit.PageNumber)
				if cit.SectionPath != "" {
					fmt.Fprintf(out, " (%s)", cit.SectionPath)
				}
				fmt.Fprintln(out)
			}
			if answer.FallbackUsed {
				fmt.Fprintf(out, "\n(answered by fallback model %s)\n", answer.ModelUsed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&docID, "doc", "", "restrict the question to one document ID")
	return cmd
}
