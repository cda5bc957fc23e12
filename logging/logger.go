// Package logging provides the leveled logger used across the codec,
// grounded on the teacher's common.Logger/StdLogger/NoOpLogger pattern.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"

	"rvtrace/packet"
)

// Severity represents log message severity levels.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "DEBUG"
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the logging contract the encoder and decoder depend on.
type Logger interface {
	Log(severity Severity, msg string)
	Logf(severity Severity, format string, args ...interface{})
	Error(err error)
	Debug(msg string)
	Info(msg string)
	Warning(msg string)

	// Packet logs one emitted or consumed trace packet at SeverityDebug,
	// in the field-tagged form spec §8's scenarios use, so a trace run
	// can be replayed by eye from log output alone without re-deriving
	// packet.Packet's zero-value defaults per format/subformat.
	Packet(dir string, p *packet.Packet)
}

// StdLogger implements Logger on top of the standard log package, one
// *log.Logger per severity so each can carry its own prefix/flags.
type StdLogger struct {
	debugLog   *log.Logger
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	minLevel   Severity
}

func NewStdLogger(minLevel Severity) *StdLogger {
	return NewStdLoggerWithWriter(os.Stdout, os.Stderr, minLevel)
}

func NewStdLoggerWithWriter(stdout, stderr io.Writer, minLevel Severity) *StdLogger {
	return &StdLogger{
		debugLog:   log.New(stdout, "DEBUG: ", log.Ltime|log.Lshortfile),
		infoLog:    log.New(stdout, "INFO: ", log.Ltime),
		warningLog: log.New(stdout, "WARNING: ", log.Ltime),
		errorLog:   log.New(stderr, "ERROR: ", log.Ltime|log.Lshortfile),
		minLevel:   minLevel,
	}
}

func (l *StdLogger) Log(severity Severity, msg string) {
	if severity < l.minLevel {
		return
	}
	switch severity {
	case SeverityDebug:
		l.debugLog.Output(2, msg)
	case SeverityInfo:
		l.infoLog.Output(2, msg)
	case SeverityWarning:
		l.warningLog.Output(2, msg)
	case SeverityError:
		l.errorLog.Output(2, msg)
	}
}

func (l *StdLogger) Logf(severity Severity, format string, args ...interface{}) {
	l.Log(severity, fmt.Sprintf(format, args...))
}

func (l *StdLogger) Error(err error) {
	if err != nil {
		l.Log(SeverityError, err.Error())
	}
}

func (l *StdLogger) Debug(msg string)   { l.Log(SeverityDebug, msg) }
func (l *StdLogger) Info(msg string)    { l.Log(SeverityInfo, msg) }
func (l *StdLogger) Warning(msg string) { l.Log(SeverityWarning, msg) }

func (l *StdLogger) Packet(dir string, p *packet.Packet) {
	if p == nil {
		return
	}
	l.Logf(SeverityDebug, "%s msgtype=%d format=%d subformat=%d addr=0x%x branches=%d branchmap=0x%x",
		dir, p.MsgType, p.Format, p.Subformat, p.Address, p.Branches, p.BranchMap)
}

// NoOpLogger discards everything; the default for library callers that
// don't want log output (e.g. a single encode_step in a hot loop).
type NoOpLogger struct{}

func NewNoOpLogger() NoOpLogger { return NoOpLogger{} }

func (l NoOpLogger) Log(severity Severity, msg string)                          {}
func (l NoOpLogger) Logf(severity Severity, format string, args ...interface{}) {}
func (l NoOpLogger) Error(err error)                                            {}
func (l NoOpLogger) Debug(msg string)                                           {}
func (l NoOpLogger) Info(msg string)                                            {}
func (l NoOpLogger) Warning(msg string)                                         {}
func (l NoOpLogger) Packet(dir string, p *packet.Packet)                        {}
