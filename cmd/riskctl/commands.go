package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/db"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/model"
	"github.com/kwonhoyeong/pwnable-3rd-sub000/internal/queue"
)

type requestFlags struct {
	version    string
	ecosystem  string
	force      bool
	skipThreat bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.version, "version", model.DefaultVersionRange, "version range to analyze")
	cmd.Flags().StringVar(&f.ecosystem, "ecosystem", model.DefaultEcosystem, "package ecosystem (npm, pip, ...)")
	cmd.Flags().BoolVar(&f.force, "force", false, "bypass cached results and recompute the analysis")
	cmd.Flags().BoolVar(&f.skipThreat, "skip-threat", false, "skip threat intelligence collection")
}

func (f *requestFlags) request(subject string) model.AnalysisRequest {
	return model.AnalysisRequest{
		Subject:      subject,
		VersionRange: f.version,
		Ecosystem:    f.ecosystem,
		Force:        f.force,
		SkipThreat:   f.skipThreat,
	}
}

func newRootCmd(b backends, out io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "riskctl",
		Short: "Operate the vulnerability analysis pipeline",
		Long: `riskctl submits analysis tasks to the worker queue, inspects the
dead-letter queue, reads stored verdicts and can run the pipeline inline.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	rootCmd.AddCommand(
		newEnqueueCmd(b, out),
		newDLQCmd(b, out),
		newShowCmd(b, out),
		newAnalyzeCmd(b, out),
	)
	return rootCmd
}

func newEnqueueCmd(b backends, out io.Writer) *cobra.Command {
	var f requestFlags
	cmd := &cobra.Command{
		Use:   "enqueue <package|CVE-ID>",
		Short: "Submit an analysis task to the worker queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			q, closeFn, err := b.Queue(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			task, err := queue.Submit(ctx, q, f.request(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "enqueued task %s for %s\n", task.ID, task.Payload.Key().String())
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newDLQCmd(b backends, out io.Writer) *cobra.Command {
	dlqCmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect the dead-letter queue",
	}

	lenCmd := &cobra.Command{
		Use:   "len",
		Short: "Print the number of dead-lettered tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, closeFn, err := b.Queue(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			n, err := q.DLQLength(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, n)
			return nil
		},
	}

	var limit int64
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the oldest dead-lettered tasks as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q, closeFn, err := b.Queue(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			entries, err := q.ListDLQ(cmd.Context(), limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			for _, e := range entries {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
			return nil
		},
	}
	listCmd.Flags().Int64Var(&limit, "limit", 20, "maximum entries to print")

	dlqCmd.AddCommand(lenCmd, listCmd)
	return dlqCmd
}

func newShowCmd(b backends, out io.Writer) *cobra.Command {
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print stored analysis verdicts",
	}

	var version string
	pkgCmd := &cobra.Command{
		Use:   "package <name>",
		Short: "Verdicts for a package, optionally one version range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showRows(cmd.Context(), b, out, func(ctx context.Context, r analysisReader) ([]db.AnalysisRow, error) {
				return r.QueryByPackage(ctx, args[0], version)
			})
		},
	}
	pkgCmd.Flags().StringVar(&version, "version", "", "version range (empty matches all)")

	cveCmd := &cobra.Command{
		Use:   "cve <CVE-ID>",
		Short: "Verdicts recorded for one CVE",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !model.IsCVEID(args[0]) {
				return fmt.Errorf("%q is not a CVE identifier", args[0])
			}
			return showRows(cmd.Context(), b, out, func(ctx context.Context, r analysisReader) ([]db.AnalysisRow, error) {
				return r.QueryByCVE(ctx, args[0])
			})
		},
	}

	showCmd.AddCommand(pkgCmd, cveCmd)
	return showCmd
}

func showRows(ctx context.Context, b backends, out io.Writer, query func(context.Context, analysisReader) ([]db.AnalysisRow, error)) error {
	r, closeFn, err := b.Store(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	rows, err := query(ctx, r)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(out, "no verdicts stored")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SUBJECT\tCVE\tRISK\tSCORE\tVERDICT\tREVIEW\tUPDATED")
	for _, row := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%s\t%t\t%s\n",
			row.SubjectKey, row.Result.CVEID, row.Result.RiskLevel, row.Result.RiskScore,
			row.Result.Verdict, row.Result.ManualReview, row.UpdatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func newAnalyzeCmd(b backends, out io.Writer) *cobra.Command {
	var (
		f       requestFlags
		timeout time.Duration
		quiet   bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <package|CVE-ID>",
		Short: "Run the pipeline in this process and print the report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			p, closeFn, err := b.Pipeline(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			progress := func(_ context.Context, ev model.ProgressEvent) {
				if !quiet {
					fmt.Fprintf(cmd.ErrOrStderr(), "[%s] %s\n", ev.State, ev.Detail)
				}
			}
			rep, err := p.Run(ctx, f.request(args[0]), progress)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rep)
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline for the run (0 disables)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print stage progress")
	return cmd
}
