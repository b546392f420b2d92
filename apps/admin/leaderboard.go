package main

import (
	"context"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/trezcool/mtihani/core/student"
)

func (cli *commandLine) leaderboard(years []int, limit int) error {
	lb, err := cli.studentSvc.Leaderboard(context.Background(), student.LeaderboardQuery{Years: years, Limit: limit})
	if err != nil {
		return err
	}
	if len(lb.Entries) == 0 {
		color.New(color.FgYellow).Fprintln(cli.out, "no ranked students yet")
		return nil
	}

	table := tablewriter.NewWriter(cli.out)
	table.SetHeader([]string{"Rank", "Year", "Roll No", "Name", "Branch", "Section", "Total", "Tests"})
	for _, e := range lb.Entries {
		table.Append([]string{
			strconv.Itoa(e.Rank),
			strconv.Itoa(e.Year),
			e.RollNo,
			e.Name,
			e.Branch,
			e.Section,
			formatScore(e.TotalScore),
			strconv.Itoa(e.TestsCompleted),
		})
	}
	table.Render()
	return nil
}
