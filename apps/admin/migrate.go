package main

import (
	"github.com/trezcool/mtihani/storage/database"
)

var gooseRunFunc = database.RunMigrations // mockable

func (cli *commandLine) migrate(args []string) error {
	return gooseRunFunc(cli.db, cli.dialect, args[0], args[1:]...)
}
