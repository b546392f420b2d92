package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/student"
	cachesvc "github.com/trezcool/mtihani/services/cache"
	emailsvc "github.com/trezcool/mtihani/services/email"
	logsvc "github.com/trezcool/mtihani/services/logger"
	"github.com/trezcool/mtihani/storage/database"
	"github.com/trezcool/mtihani/storage/database/sqlxrepos"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile), conf)
	errAndDie := func(err error) {
		if err != nil {
			logger.Fatal(fmt.Sprintf("admin: %v", err), err)
		}
	}

	// set up DB
	errAndDie(database.CreateIfNotExist(conf))
	db, err := database.Open(conf)
	errAndDie(err)
	defer db.Close()
	errAndDie(db.Ping())
	dialect := database.DialectOf(conf)

	// set up services
	_en := en.New()
	translator, _ := ut.New(_en, _en).GetTranslator("en")
	validate := validator.New()
	core.InitValidators(validate, translator)
	exam.InitValidators(validate, translator)
	student.InitValidators(validate, translator)

	var cache student.LeaderboardCache
	if client := cachesvc.NewClient(conf); client != nil {
		cache = cachesvc.NewLeaderboardCache(client, conf)
	}
	liveness := exam.NewLiveness(sqlxrepos.NewExamRepository(db, dialect))
	mailSvc := emailsvc.New(log.New(os.Stdout, "MAIL : ", log.LstdFlags), logger, conf)

	// start CLI
	cli := commandLine{
		db:         db,
		dialect:    dialect,
		adminSvc:   admin.NewService(sqlxrepos.NewAdminRepository(db, dialect), validate, logger),
		studentSvc: student.NewService(db, sqlxrepos.NewCohortRegistry(db, dialect), liveness, mailSvc, cache, validate, logger, conf),
		out:        os.Stdout,
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		db.Close()
		os.Exit(1)
	}
}
