package dig_container

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/mtihani/apps/api/echo"
	"github.com/trezcool/mtihani/core"
	"github.com/trezcool/mtihani/core/admin"
	"github.com/trezcool/mtihani/core/exam"
	"github.com/trezcool/mtihani/core/scheduler"
	"github.com/trezcool/mtihani/core/student"
	cachesvc "github.com/trezcool/mtihani/services/cache"
	emailsvc "github.com/trezcool/mtihani/services/email"
	logsvc "github.com/trezcool/mtihani/services/logger"
	"github.com/trezcool/mtihani/storage/database"
	"github.com/trezcool/mtihani/storage/database/sqlxrepos"
)

type (
	DBLoggerParam struct {
		dig.In
		Logger core.Logger `name:"dbLogger"`
	}

	SchedulerLoggerParam struct {
		dig.In
		Logger core.Logger `name:"schedulerLogger"`
	}

	// ServerParam gathers what the API server needs.
	ServerParam struct {
		dig.In
		Conf       *core.Config
		Logger     core.Logger
		ExamSvc    *exam.Service
		StudentSvc *student.Service
		AdminSvc   *admin.Service
		Scheduler  *scheduler.Scheduler
		Validate   *validator.Validate
		Translator ut.Translator
	}

	// ShutdownSignal receives OS interrupts and shutdown requests from the server.
	ShutdownSignal chan os.Signal
)

func newRollbarLogger(conf *core.Config, prefix string, flags int) core.Logger {
	return logsvc.NewRollbarLogger(log.New(os.Stdout, prefix, flags), conf)
}

func newLogger(conf *core.Config) core.Logger {
	return newRollbarLogger(conf, "API : ", log.LstdFlags)
}

func newDBLogger(conf *core.Config) core.Logger {
	return newRollbarLogger(conf, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
}

func newSchedulerLogger(conf *core.Config) core.Logger {
	return newRollbarLogger(conf, "SCHED : ", log.LstdFlags|log.Lmicroseconds)
}

func newDB(conf *core.Config, loggerParam DBLoggerParam) (*sql.DB, core.DB) {
	setUp := func() (*sql.DB, error) {
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}

		if err = database.Migrate(db, database.DialectOf(conf)); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		loggerParam.Logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	return db, db
}

func newValidator() (*validator.Validate, ut.Translator) {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")

	validate := validator.New()
	core.InitValidators(validate, translator)
	exam.InitValidators(validate, translator)
	student.InitValidators(validate, translator)
	return validate, translator
}

func newExamRepository(db *sql.DB, conf *core.Config) exam.Repository {
	return sqlxrepos.NewExamRepository(db, database.DialectOf(conf))
}

func newCohorts(db *sql.DB, conf *core.Config) student.Cohorts {
	return sqlxrepos.NewCohortRegistry(db, database.DialectOf(conf))
}

func newAdminRepository(db *sql.DB, conf *core.Config) admin.Repository {
	return sqlxrepos.NewAdminRepository(db, database.DialectOf(conf))
}

// newLeaderboardCache returns nil when no redis address is configured.
func newLeaderboardCache(conf *core.Config, logger core.Logger) student.LeaderboardCache {
	client := cachesvc.NewClient(conf)
	if client == nil {
		logger.Info("redis not configured: leaderboards are not cached")
		return nil
	}
	return cachesvc.NewLeaderboardCache(client, conf)
}

func newEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	return emailsvc.New(log.New(os.Stdout, "MAIL : ", log.LstdFlags), logger, conf)
}

func newStudentService(
	db core.DB,
	cohorts student.Cohorts,
	liveness *exam.Liveness,
	mailSvc core.EmailService,
	cache student.LeaderboardCache,
	validate *validator.Validate,
	logger core.Logger,
	conf *core.Config,
) *student.Service {
	return student.NewService(db, cohorts, liveness, mailSvc, cache, validate, logger, conf)
}

func newScheduler(liveness *exam.Liveness, studentSvc *student.Service, loggerParam SchedulerLoggerParam, conf *core.Config) *scheduler.Scheduler {
	return scheduler.New(liveness, studentSvc, loggerParam.Logger,
		scheduler.WithWindow(conf.Exam.LiveWindow),
		scheduler.WithFireTimeout(conf.Exam.ExpiryTimeout),
	)
}

func newExamService(
	db core.DB,
	repo exam.Repository,
	sched *scheduler.Scheduler,
	validate *validator.Validate,
	logger core.Logger,
	conf *core.Config,
) *exam.Service {
	return exam.NewService(db, repo, sched, validate, logger, conf)
}

func newShutdownSignal() ShutdownSignal {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	return shutdown
}

func newServer(p ServerParam, shutdown ShutdownSignal) echoapi.Server {
	return echoapi.NewServer(p.Conf.Server.Address, shutdown, &echoapi.Deps{
		ExamSvc:    p.ExamSvc,
		StudentSvc: p.StudentSvc,
		AdminSvc:   p.AdminSvc,
		Scheduler:  p.Scheduler,
		Validate:   p.Validate,
		Translator: p.Translator,
		Logger:     p.Logger,
		Conf:       p.Conf,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLogger))
	must(c.Provide(newDBLogger, dig.Name("dbLogger")))
	must(c.Provide(newSchedulerLogger, dig.Name("schedulerLogger")))
	must(c.Provide(newDB))
	must(c.Provide(newValidator))
	must(c.Provide(newExamRepository))
	must(c.Provide(newCohorts))
	must(c.Provide(newAdminRepository))
	must(c.Provide(newLeaderboardCache))
	must(c.Provide(newEmailService))
	must(c.Provide(exam.NewLiveness))
	must(c.Provide(newStudentService))
	must(c.Provide(newScheduler))
	must(c.Provide(newExamService))
	must(c.Provide(admin.NewService))
	must(c.Provide(newShutdownSignal))
	must(c.Provide(newServer))

	return c
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
