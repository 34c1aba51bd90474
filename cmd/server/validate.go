package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Shimizu-Technology/document-viewer-api/internal/docerr"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/textindex"
	"github.com/Shimizu-Technology/document-viewer-api/internal/services/validator"
)

func validateCmd() *cobra.Command {
	var withText bool
	cmd := &cobra.Command{
		Use:   "validate <file.pdf>",
		Short: "Check a PDF the way an upload is checked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			v := validator.New(validator.Options{MinSize: cfg.MinFileSize, MaxSize: cfg.MaxFileSize, MaxPages: cfg.MaxPages})
			result, err := v.Validate(data, filepath.Base(args[0]))
			if err != nil {
				return explain(cmd, err)
			}
			structure, err := validator.NewInspector(cfg.MaxPages).Inspect(data)
			if err != nil {
				return explain(cmd, err)
			}

			fmt.Fprintf(out, "✅ %s: PDF %s, %d bytes, %d pages\n", args[0], result.Version, result.Size, structure.PageCount)
			for _, w := range result.Warnings {
				fmt.Fprintf(out, "⚠️  %s\n", w)
			}

			if withText {
				pages, err := textindex.ExtractText(data, structure.PageCount)
				if err != nil {
					fmt.Fprintf(out, "⚠️  %s\n", err)
					return nil
				}
				fmt.Fprintf(out, "📝 %s\n", textindex.Summary(pages))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&withText, "text", false, "also extract text and report coverage")
	return cmd
}

// explain prints the user-facing description of a validation failure.
func explain(cmd *cobra.Command, err error) error {
	uf := docerr.UserMessage(err)
	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "❌ %s\n   %s\n", uf.Title, err)
	for _, s := range uf.Suggestions {
		fmt.Fprintf(out, "   - %s\n", s)
	}
	return err
}
