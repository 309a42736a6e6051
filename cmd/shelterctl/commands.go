package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/shelter/internal/application"
	"github.com/JonMunkholm/shelter/internal/core"
)

var errAborted = errors.New("import aborted")

type openFunc func(cmd *cobra.Command) (*application.App, error)

func newPreviewCmd(open openFunc) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "preview <file.csv>",
		Short: "Classify every row of a CSV without writing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFile(args[0])
			if err != nil {
				return err
			}

			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := app.Service.Preview(cmd.Context(), data)
			if err != nil {
				return withCode(exitFailure, errors.New(core.FormatUserError(err)))
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			return printPreview(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full preview as JSON")
	return cmd
}

func newApplyCmd(open openFunc) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "apply <file.csv>",
		Short: "Apply a CSV as the complete list of active animals",
		Long: `Apply previews the file, then creates and updates every row without errors,
links bonded pairs and soft-deletes every active animal the file does not list.
Rows with errors are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFile(args[0])
			if err != nil {
				return err
			}

			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			resp, err := app.Service.Preview(ctx, data)
			if err != nil {
				return withCode(exitFailure, errors.New(core.FormatUserError(err)))
			}
			if err := printPreview(out, resp); err != nil {
				return err
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "WARNING: every active animal not listed in this file will be deleted.")
			if resp.Summary.Errors > 0 {
				fmt.Fprintf(out, "%d row(s) with errors will be skipped.\n", resp.Summary.Errors)
			}

			if !yes {
				ok, err := confirm(cmd.InOrStdin(), out, "Apply this import? [y/N] ")
				if err != nil {
					return err
				}
				if !ok {
					return withCode(exitFailure, errAborted)
				}
			}

			result, err := app.Service.Apply(ctx, resp.Rows)
			printResult(out, result)
			if err != nil {
				return withCode(exitFailure, errors.New(core.FormatUserError(err)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func newExportCmd(open openFunc) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write every active animal as an importable CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, ferr := os.Create(output)
				if ferr != nil {
					return fmt.Errorf("create %s: %w", output, ferr)
				}
				defer func() {
					if cerr := f.Close(); cerr != nil && err == nil {
						err = fmt.Errorf("close %s: %w", output, cerr)
					}
				}()
				w = f
			}

			n, err := app.Service.Export(cmd.Context(), w)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d animal(s)\n", n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, withCode(exitUsage, fmt.Errorf("read %s: %w", path, err))
	}
	return data, nil
}

// printPreview writes one line per row and the summary.
func printPreview(w io.Writer, resp *core.PreviewResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tOPERATION\tID\tNAME\tERRORS")
	for _, row := range resp.Rows {
		id := "-"
		if row.ID != nil {
			id = fmt.Sprint(*row.ID)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			row.RowNumber, row.Operation, id, row.Fields.Name, strings.Join(row.Errors, "; "))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%d row(s): %d create, %d update, %d with errors\n",
		resp.Total, resp.Summary.Creates, resp.Summary.Updates, resp.Summary.Errors)
	return err
}

func printResult(w io.Writer, r core.ApplyResult) {
	fmt.Fprintf(w, "created %d, updated %d, deleted %d, skipped %d\n", r.Created, r.Updated, r.Deleted, r.Skipped)
}

// confirm reads a yes/no answer. Anything but y or yes declines.
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}
