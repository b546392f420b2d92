package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/core/student"
	"github.com/trezcool/mtihani/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	dialect    database.Dialect
	adminSvc   *admin.Service
	studentSvc *student.Service
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                       - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME [-role ROLE]      - create an administrator (principal|hod)")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME             - reset an administrator's password")
	fmt.Fprintln(cli.out, "  reconcile [-year YEAR] [-dry]                - check and fix students' total scores")
	fmt.Fprintln(cli.out, "  leaderboard [-year YEAR] [-limit N]          - print the leaderboard")
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ExitOnError)
	addUserUname := addUserCmd.String("username", "", "The administrator's username. The password will be prompted next.")
	addUserRole := addUserCmd.String("role", string(admin.RolePrincipal), "The administrator's role: principal or hod.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The administrator's username. The password will be prompted next.")

	reconcileCmd := flag.NewFlagSet("reconcile", flag.ExitOnError)
	reconcileYear := reconcileCmd.Int("year", 0, "Only check this cohort.")
	reconcileDry := reconcileCmd.Bool("dry", false, "Report mismatches without fixing them.")

	leaderboardCmd := flag.NewFlagSet("leaderboard", flag.ExitOnError)
	leaderboardYear := leaderboardCmd.Int("year", 0, "Only rank this cohort.")
	leaderboardLimit := leaderboardCmd.Int("limit", 10, "How many students to list (1-100).")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserUname, admin.Role(*addUserRole), pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordUname, pwd)

	case "reconcile":
		if err := reconcileCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.reconcile(yearsOf(*reconcileYear), *reconcileDry)

	case "leaderboard":
		if err := leaderboardCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.leaderboard(yearsOf(*leaderboardYear), *leaderboardLimit)

	default:
		cli.printUsage()
		return errHelp
	}
}

func yearsOf(year int) []int {
	if year == 0 {
		return nil
	}
	return []int{year}
}
