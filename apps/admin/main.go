package main

import (
	"context"
	"fmt"
	"os"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/maintenance"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/user"
	appfs "github.com/trezcool/enrolla/fs"
	"github.com/trezcool/enrolla/services/email"
	"github.com/trezcool/enrolla/services/logger"
	"github.com/trezcool/enrolla/services/objstore"
	"github.com/trezcool/enrolla/storage/database"
	"github.com/trezcool/enrolla/storage/database/sqlx"
)

func main() {
	if err := run(); err != nil {
		if err != errHelp {
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	conf := core.NewConfig()

	logger, err := logsvc.NewLogger(conf)
	if err != nil {
		return err
	}
	defer logger.Sync()

	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)
	if err = user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsGz); err != nil {
		logger.Warn("loading common passwords", err)
	}

	// set up DB
	if err = database.CreateIfNotExist(conf); err != nil {
		return err
	}
	db, err := database.Open(conf)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()
	tx := database.NewDB(db)

	store, err := objstore.NewS3Store(context.Background(), conf)
	if err != nil {
		return err
	}

	// set up services
	mailSvc := emailsvc.NewService(conf, logger)
	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)

	cli := commandLine{
		out:            os.Stdout,
		db:             db.DB,
		usrRepo:        usrRepo,
		usrSvc:         usrSvc,
		partnerSvc:     partner.NewService(sqlxrepos.NewPartnerRepository(db), tx),
		paymentSvc:     payment.NewService(sqlxrepos.NewPaymentRepository(db), tx, mailSvc),
		documentSvc:    document.NewService(sqlxrepos.NewDocumentRepository(db), tx, store, usrSvc, mailSvc, conf, logger),
		maintenanceSvc: maintenance.NewService(sqlxrepos.NewMaintenanceRepository(db), usrSvc),
	}
	return cli.run(os.Args)
}
