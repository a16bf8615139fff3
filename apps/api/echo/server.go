package echoapi

import (
	"context"
	"net/http"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/archive"
	"github.com/trezcool/enrolla/core/course"
	"github.com/trezcool/enrolla/core/document"
	"github.com/trezcool/enrolla/core/maintenance"
	"github.com/trezcool/enrolla/core/partner"
	"github.com/trezcool/enrolla/core/payment"
	"github.com/trezcool/enrolla/core/registration"
	"github.com/trezcool/enrolla/core/user"
	"github.com/trezcool/enrolla/services/metrics"
	"github.com/trezcool/enrolla/services/ratelimit"
)

type (
	Options struct {
		Conf       *core.Config
		Logger     core.Logger
		Validate   *validator.Validate
		Translator ut.Translator
		Limiter    ratelimit.Limiter
		Metrics    *metrics.Collector // optional
		// SignalShutdown is called when a handler fails with a core shutdown error.
		SignalShutdown func()

		UserSvc         user.Service
		CourseSvc       course.Service
		RegistrationSvc registration.Service
		PaymentSvc      payment.Service
		DocumentSvc     document.Service
		PartnerSvc      partner.Service
		ArchiveSvc      archive.Service
		MaintenanceSvc  maintenance.Service
	}

	Server interface {
		http.Handler
		Start() error
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.opts.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if s.opts.Metrics != nil {
		s.app.Use(s.opts.Metrics.Middleware())
	}
	if !conf.Server.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.Translator, s.opts.SignalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(newJWTConfig(conf))

	registerUserAPI(v1, jwt, s.opts)
	registerCourseAPI(v1, jwt, s.opts)
	registerRegistrationAPI(v1, jwt, s.opts)
	registerPaymentAPI(v1, jwt, s.opts)
	registerDocumentAPI(v1, jwt, s.opts)
	registerPartnerAPI(v1, jwt, s.opts)
	registerArchiveAPI(v1, jwt, s.opts)
}

// Start blocks until the server stops; http.ErrServerClosed is returned after Stop.
func (s *server) Start() error {
	return s.app.Start(s.opts.Conf.Server.Host)
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Enrolla API!")
}

// passwordResetWindow is the period over which Config.PasswordResetRL is counted.
const passwordResetWindow = time.Hour
