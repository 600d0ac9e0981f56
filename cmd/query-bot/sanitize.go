package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/seanankenbruck/mongo-query-bot/internal/processor"
)

func newSanitizeCmd() *cobra.Command {
	var (
		canonical bool
		wrap      bool
	)
	cmd := &cobra.Command{
		Use:   "sanitize [text]",
		Short: "Parse query text and print it as Extended JSON",
		Long: `Parse query text or a single literal without running it and print the
result as MongoDB Extended JSON. Text is read from the argument, or from
stdin when no argument is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if len(args) == 1 {
				text = args[0]
			} else {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				text = string(data)
			}
			return runSanitize(cmd.OutOrStdout(), text, canonical, wrap)
		},
	}
	cmd.Flags().BoolVar(&canonical, "canonical", false, "Use canonical Extended JSON (type-preserving)")
	cmd.Flags().BoolVar(&wrap, "wrap", false, "Print the full result with kind and verb instead of only the value")
	return cmd
}

func runSanitize(out io.Writer, text string, canonical, wrap bool) error {
	result, err := processor.SanitizeText(text, canonical)
	if err != nil {
		return err
	}

	var data []byte
	if wrap {
		data, err = json.MarshalIndent(result, "", "  ")
	} else {
		var buf bytes.Buffer
		err = json.Indent(&buf, result.Value, "", "  ")
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
