package core

// Logger is implemented by the logging services. Extra args may carry errors, maps of context
// or the authenticated account.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// LogPerson identifies the account a log entry is about.
type LogPerson struct {
	ID       string
	Username string
	Email    string
}
