package main

import (
	"context"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/trezcool/mtihani/core/student"
)

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// reconcile lists students whose stored total drifted from their attempts, and fixes them unless dry.
func (cli *commandLine) reconcile(years []int, dry bool) error {
	ctx := context.Background()

	var (
		mismatches []student.TotalMismatch
		err        error
	)
	if dry {
		mismatches, err = cli.studentSvc.ValidateTotals(ctx, years)
	} else {
		mismatches, err = cli.studentSvc.ReconcileTotals(ctx, years)
	}
	if err != nil {
		return err
	}

	if len(mismatches) == 0 {
		color.New(color.FgGreen).Fprintln(cli.out, "all totals are consistent")
		return nil
	}

	table := tablewriter.NewWriter(cli.out)
	table.SetHeader([]string{"Year", "Roll No", "Stored", "Expected"})
	for _, m := range mismatches {
		table.Append([]string{strconv.Itoa(m.Year), m.RollNo, formatScore(m.Stored), formatScore(m.Expected)})
	}
	table.Render()

	if dry {
		color.New(color.FgYellow).Fprintf(cli.out, "%d total(s) out of sync\n", len(mismatches))
	} else {
		color.New(color.FgGreen).Fprintf(cli.out, "%d total(s) fixed\n", len(mismatches))
	}
	return nil
}
