package logsvc

import (
	"github.com/pkg/errors"
	"github.com/rollbar/rollbar-go"
	rollbarerrors "github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/trezcool/enrolla/core"
	"github.com/trezcool/enrolla/core/user"
)

// Logger writes to zap and reports warnings and errors to rollbar when a token is configured.
type Logger struct {
	zl      *zap.SugaredLogger
	rollbar bool
}

var _ core.Logger = (*Logger)(nil)

func newZap(conf *core.Config) (*zap.Logger, error) {
	var cfg zap.Config
	if conf.Logging.Format == "json" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
	}

	lvl := zapcore.InfoLevel
	if err := lvl.UnmarshalText([]byte(conf.Logging.Level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", conf.Logging.Level)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.InitialFields = map[string]interface{}{"app": conf.AppName, "env": conf.Env, "build": conf.Build}

	return cfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
}

func NewLogger(conf *core.Config) (*Logger, error) {
	zl, err := newZap(conf)
	if err != nil {
		return nil, err
	}

	l := &Logger{zl: zl.Sugar(), rollbar: conf.RollbarToken != ""}
	if l.rollbar {
		rollbar.SetToken(conf.RollbarToken)
		rollbar.SetEnvironment(conf.Env)
		rollbar.SetServerHost(conf.Server.Host)
		rollbar.SetCodeVersion(conf.Build)
		rollbar.SetStackTracer(rollbarerrors.StackTracer)
	}
	rollbar.SetEnabled(l.rollbar)
	return l, nil
}

// NewNopLogger discards everything; used in tests.
func NewNopLogger() *Logger {
	return &Logger{zl: zap.NewNop().Sugar()}
}

func (l *Logger) Sugar() *zap.SugaredLogger { return l.zl }

// Sync flushes zap's buffers and waits for the pending rollbar reports.
func (l *Logger) Sync() {
	_ = l.zl.Sync()
	if l.rollbar {
		rollbar.Wait()
	}
}

// fields turns the expected args (error, map[string]interface{}, user.User) into zap key/values.
func fields(args []interface{}) (kvs []interface{}, usr *user.User, err error) {
	kvs = make([]interface{}, 0, len(args)*2)
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if usr == nil { // only set one User
				u := a
				usr = &u
				kvs = append(kvs, "user_id", a.ID)
			}
		case *user.User:
			if usr == nil && a != nil {
				usr = a
				kvs = append(kvs, "user_id", a.ID)
			}
		case error:
			if err == nil {
				err = a
			}
			kvs = append(kvs, zap.Error(a))
		case map[string]interface{}:
			for k, v := range a {
				kvs = append(kvs, k, v)
			}
		default:
			kvs = append(kvs, "arg", a)
		}
	}
	return kvs, usr, err
}

func (l *Logger) report(level, msg string, usr *user.User, err error, args []interface{}) {
	if !l.rollbar {
		return
	}
	if usr != nil {
		rollbar.SetPerson(usr.ID, usr.Username, usr.Email)
	} else {
		rollbar.ClearPerson()
	}
	extras := make(map[string]interface{})
	for _, arg := range args {
		if m, ok := arg.(map[string]interface{}); ok {
			for k, v := range m {
				extras[k] = v
			}
		}
	}
	if err != nil {
		rollbar.ErrorWithExtras(level, errors.WithMessage(err, msg), extras)
		return
	}
	rollbar.MessageWithExtras(level, msg, extras)
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	kvs, _, _ := fields(args)
	l.zl.Debugw(msg, kvs...)
}

func (l *Logger) Info(msg string, args ...interface{}) {
	kvs, _, _ := fields(args)
	l.zl.Infow(msg, kvs...)
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	kvs, usr, err := fields(args)
	l.zl.Warnw(msg, kvs...)
	l.report(rollbar.WARN, msg, usr, err, args)
}

func (l *Logger) Error(msg string, args ...interface{}) {
	kvs, usr, err := fields(args)
	l.zl.Errorw(msg, kvs...)
	l.report(rollbar.ERR, msg, usr, err, args)
}

func (l *Logger) Fatal(msg string, args ...interface{}) {
	kvs, usr, err := fields(args)
	l.report(rollbar.CRIT, msg, usr, err, args)
	if l.rollbar {
		rollbar.Wait()
	}
	l.zl.Fatalw(msg, kvs...)
}
