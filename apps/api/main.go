package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof on http.DefaultServeMux
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/trezcool/enrolla/apps/api/echo"
	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/archive"
	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/maintenance"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	appfs "github.com/trezcool/enrolla/fs"
	"github.com/trezcool/enrolla/services/email"
	"github.com/trezcool/enrolla/services/logger"
	"github.com/trezcool/enrolla/services/metrics"
	"github.com/trezcool/enrolla/services/objstore"
	"github.com/trezcool/enrolla/services/ratelimit"
	"github.com/trezcool/enrolla/storage/database"
	"github.com/trezcool/enrolla/storage/database/sqlx"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	logger, err := logsvc.NewLogger(conf)
	if err != nil {
		return errors.Wrap(err, "setting up logger")
	}
	defer logger.Sync()

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, conf, logger)
	if err = user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsGz); err != nil {
		logger.Warn("loading common passwords", err)
	}

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator)

	// set up DB
	if err = database.CreateIfNotExist(conf); err != nil {
		return errors.Wrap(err, "creating database")
	}
	db, err := database.Open(conf)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", err)
		}
	}()
	if err = database.Migrate(context.Background(), db.DB, "up"); err != nil {
		return errors.Wrap(err, "migrating database")
	}
	tx := database.NewDB(db)

	store, err := objstore.NewS3Store(context.Background(), conf)
	if err != nil {
		return errors.Wrap(err, "setting up object storage")
	}

	limiter := ratelimit.NewLimiter(conf)
	if c, ok := limiter.(io.Closer); ok {
		defer c.Close()
	}

	collector := metrics.NewCollector()

	// set up services
	mailSvc := emailsvc.NewService(conf, logger)
	usrSvc := user.NewService(sqlxrepos.NewUserRepository(db), mailSvc, conf)
	courseSvc := course.NewService(sqlxrepos.NewCourseRepository(db))
	partnerSvc := partner.NewService(sqlxrepos.NewPartnerRepository(db), tx)
	paymentSvc := payment.NewService(sqlxrepos.NewPaymentRepository(db), tx, mailSvc)
	documentSvc := document.NewService(sqlxrepos.NewDocumentRepository(db), tx, store, usrSvc, mailSvc, conf, logger)
	registrationSvc := registration.NewService(
		sqlxrepos.NewRegistrationRepository(db), tx, usrSvc, courseSvc, partnerSvc, paymentSvc, documentSvc, mailSvc,
	)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus metrics of the API.

	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/metrics", metrics.Handler(metrics.NewRegistry(collector)))

	if conf.Server.DebugHost != "" {
		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()
	}

	// =========================================================================
	// Start API Service

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Conf:       conf,
		Logger:     logger,
		Validate:   validate,
		Translator: translator,
		Limiter:    limiter,
		Metrics:    collector,
		SignalShutdown: func() {
			select {
			case shutdown <- syscall.SIGTERM:
			default:
			}
		},
		UserSvc:         usrSvc,
		CourseSvc:       courseSvc,
		RegistrationSvc: registrationSvc,
		PaymentSvc:      paymentSvc,
		DocumentSvc:     documentSvc,
		PartnerSvc:      partnerSvc,
		ArchiveSvc:      archive.NewService(sqlxrepos.NewArchiveRepository(db), tx, validate, translator),
		MaintenanceSvc:  maintenance.NewService(sqlxrepos.NewMaintenanceRepository(db), usrSvc),
	})

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info(fmt.Sprintf("API listening on %s", conf.Server.Host))
		serverErrors <- server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-serverErrors:
		return errors.Wrap(err, "server error")

	case sig := <-shutdown:
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		if err = server.Stop(ctx); err != nil {
			return errors.Wrap(err, "could not stop server gracefully")
		}
	}
	return nil
}
