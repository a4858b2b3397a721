package cli

import (
	"fmt"
	"strings"

	"contribledger/internal/archive"
	"contribledger/internal/models"
	"contribledger/internal/util"

	"github.com/spf13/cobra"
)

func newSubmitCmd(o *options) *cobra.Command {
	var (
		in       archive.NewContribution
		textFile string
		pdfFile  string
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Archive a contribution from text, a text file or a PDF",
		Example: `  ledgerctl submit --contributor alice --text "..."
  ledgerctl submit --contributor alice --pdf paper.pdf
  cat notes.md | ledgerctl submit --contributor bob --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case pdfFile != "":
				text, err := util.ExtractPDFText(pdfFile)
				if err != nil {
					return err
				}
				in.Text = text
			case textFile != "":
				text, err := readInput(textFile)
				if err != nil {
					return err
				}
				in.Text = text
			}
			if strings.TrimSpace(in.Title) == "" {
				in.Title = util.TitleFromText(in.Text, 120)
			}
			a, err := o.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			c, err := a.Orchestrator.Submit(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}
	cmd.Flags().StringVar(&in.SubmissionID, "id", "", "submission id (generated when empty)")
	cmd.Flags().StringVar(&in.Contributor, "contributor", "", "contributor id")
	cmd.Flags().StringVar(&in.Title, "title", "", "title (defaults to the first line)")
	cmd.Flags().StringVar(&in.Category, "category", "", "free-form category")
	cmd.Flags().StringVar(&in.Text, "text", "", "contribution text")
	cmd.Flags().StringVar(&textFile, "file", "", "read the text from a file, - for stdin")
	cmd.Flags().StringVar(&pdfFile, "pdf", "", "extract the text from a PDF")
	cmd.MarkFlagsMutuallyExclusive("text", "file", "pdf")
	_ = cmd.MarkFlagRequired("contributor")
	return cmd
}

func newEvaluateCmd(o *options) *cobra.Command {
	var retry bool
	cmd := &cobra.Command{
		Use:   "evaluate <submission-id>",
		Short: "Evaluate a submitted contribution, or resume one left in EVALUATING",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			eval := a.Orchestrator.Evaluate
			if retry {
				eval = a.Orchestrator.Retry
			}
			res, err := eval(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if _, err := a.Orchestrator.RefreshGraph(cmd.Context(), a.GraphPath()); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "graph refresh failed: %v\n", err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "resume an interrupted evaluation")
	return cmd
}

func newGetCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <submission-id>",
		Short: "Show one contribution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			c, err := a.Archive.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		},
	}
}

func newListCmd(o *options) *cobra.Command {
	var status, contributor, metal string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List contributions in archive order",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			var rows []models.Contribution
			switch {
			case status != "":
				st, err := models.ParseStatus(status)
				if err != nil {
					return err
				}
				rows = a.Archive.ListByStatus(st)
			case contributor != "":
				rows = a.Archive.ListByContributor(contributor)
			case metal != "":
				m, err := models.ParseMetal(metal)
				if err != nil {
					return err
				}
				rows = a.Archive.ListByMetal(m)
			default:
				rows = a.Archive.All()
			}
			w := cmd.OutOrStdout()
			for _, c := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.SubmissionID, c.Status, c.Contributor, metalList(c.Metals), c.Title)
			}
			if len(rows) == 0 {
				fmt.Fprintln(w, "(none)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().StringVar(&contributor, "contributor", "", "filter by contributor")
	cmd.Flags().StringVar(&metal, "metal", "", "filter by metal")
	cmd.MarkFlagsMutuallyExclusive("status", "contributor", "metal")
	return cmd
}

func newRegisterCmd(o *options) *cobra.Command {
	var pending bool
	cmd := &cobra.Command{
		Use:   "register [submission-id]",
		Short: "Register allocations with the registration sink",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if pending == (len(args) == 1) {
				return fmt.Errorf("pass a submission id or --pending")
			}
			a, err := o.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ids := args
			if pending {
				ids = a.Orchestrator.PendingRegistrations()
			}
			out := map[string]string{}
			var failed int
			for _, id := range ids {
				cert, err := a.Orchestrator.Register(cmd.Context(), id)
				if err != nil {
					failed++
					out[id] = "error: " + err.Error()
					continue
				}
				out[id] = cert
			}
			if err := printJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d registration(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&pending, "pending", false, "retry every registration that failed earlier")
	return cmd
}

func newReindexCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the archive index from stored contributions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := o.open(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			a.Archive.Reindex()
			fmt.Fprintf(cmd.OutOrStdout(), "reindexed %d contributions\n", a.Archive.Count())
			return nil
		},
	}
}

func metalList(ms []models.Metal) string {
	if len(ms) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		parts = append(parts, string(m))
	}
	return strings.Join(parts, ",")
}
