package main

import (
	"context"
	"fmt"

	"github.com/trezcool/mtihani/core/admin"
)

func (cli *commandLine) addUser(uname string, role admin.Role, pwd string) error {
	adm, err := cli.adminSvc.Create(context.Background(), admin.NewAdmin{Username: uname, Role: role, Password: pwd})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "created %s %q\n", adm.Role, adm.Username)
	return nil
}
