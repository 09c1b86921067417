package logsvc

import (
	"log"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/divecert/core"
	"github.com/trezcool/divecert/core/user"
)

// RollbarLogger prints to a std logger and reports every entry to Rollbar.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Close waits for the queued Rollbar items to be sent.
func (l RollbarLogger) Close() {
	rollbar.Close()
}

// expected fmt: msg | error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, []interface{}) {
	var usrSet bool
	rbArgs := make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	printed := make([]interface{}, 0, len(args))
	for _, arg := range args {
		switch a := arg.(type) {
		case user.User:
			if !usrSet { // only set one User
				rollbar.SetPerson(a.ID, a.Username, a.Email)
				usrSet = true
			}
		case *user.User:
			if a != nil && !usrSet {
				rollbar.SetPerson(a.ID, a.Username, a.Email)
				usrSet = true
			}
		default:
			rbArgs = append(rbArgs, arg)
			printed = append(printed, arg)
		}
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return rbArgs, printed
}

func (l RollbarLogger) print(level, msg string, args []interface{}) {
	l.std.Printf("[%s] %s", level, msg)
	for _, arg := range args {
		l.std.Printf("%+v\n", arg)
	}
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rbArgs, printed := l.prepare(msg, args)
	rollbar.Debug(rbArgs...)
	l.print("DEBUG", msg, printed)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rbArgs, printed := l.prepare(msg, args)
	rollbar.Info(rbArgs...)
	l.print("INFO", msg, printed)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rbArgs, printed := l.prepare(msg, args)
	rollbar.Warning(rbArgs...)
	l.print("WARN", msg, printed)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rbArgs, printed := l.prepare(msg, args)
	rollbar.Error(rbArgs...)
	l.print("ERROR", msg, printed)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rbArgs, printed := l.prepare(msg, args)
	rollbar.Critical(rbArgs...)
	l.print("FATAL", msg, printed)
	rollbar.Close()
	l.std.Fatal(msg)
}
