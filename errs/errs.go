// Package errs defines the flat error taxonomy shared by the encoder,
// decoder and serializer (spec §7).
package errs

import "fmt"

// Code is the library's flat error status code.
type Code uint32

const (
	OK Code = iota
	Invalid
	NoMem
	BadPacket
	BadInstr
	BadConfig
	BadRAS
	BadVMA
	SectionEmpty
	FileOpen
	FileRead
	FileWrite
	FileScan
	Unimplemented
)

var codeDesc = map[Code]string{
	OK:            "no error",
	Invalid:       "invalid argument",
	NoMem:         "allocation failed",
	BadPacket:     "unknown format, truncated, or impossible field combination",
	BadInstr:      "disassembler refused or classified as noninsn",
	BadConfig:     "protocol/configuration incompatibility",
	BadRAS:        "pop from empty return-address stack",
	BadVMA:        "pc outside any loadable section",
	SectionEmpty:  "section load returned no bytes",
	FileOpen:      "file open failure",
	FileRead:      "file read failure",
	FileWrite:     "file write failure",
	FileScan:      "stimulus scan failure",
	Unimplemented: "reserved subformat or trigger not implemented",
}

func (c Code) String() string {
	if s, ok := codeDesc[c]; ok {
		return s
	}
	return "unknown error code"
}

// Error wraps a Code with a formatted message, satisfying the standard
// error interface while keeping the status code available to callers
// that need to branch on the taxonomy rather than string-match.
type Error struct {
	Code Code
	Msg  string
}

func New(code Code, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

func Newf(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is lets errors.Is match on the Code alone, e.g. errors.Is(err, errs.New(errs.BadRAS, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}
