/*
Package cli provides command-line helpers for the tally command.

Output Formatting:

Command results are printed as aligned text, JSON or CSV. Values that
implement Table render as rows in text and CSV; JSON encodes the value:

	format, err := cli.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(os.Stdout, stats)

Progress Reporting:

Multi-step operations, such as purging several categories, report one step
at a time on stderr:

	progress := cli.NewProgressReporter(nil)
	progress.Start(int64(len(categories)))
	for _, c := range categories {
		// Do work
		progress.Step(c.String())
	}
	progress.Finish()

Signal Handling:

	ctx := cli.SetupSignalHandler(context.Background())
	// ctx is cancelled on SIGINT/SIGTERM; a second signal exits at once

Exit Codes:

ExitCode maps a command error to 0 (ok), 1 (failure) or 2 (configuration
or flag error).
*/
package cli
