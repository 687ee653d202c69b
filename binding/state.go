package binding

import (
	"fmt"
	"net/http"
)

// Tag names the terminal kind of a State.
type Tag int

const (
	Empty Tag = iota
	Success
	Error
	Exception
)

func (t Tag) String() string {
	switch t {
	case Empty:
		return "empty"
	case Success:
		return "success"
	case Error:
		return "error"
	case Exception:
		return "exception"
	}
	return fmt.Sprintf("Tag(%d)", int(t))
}

// State is a snapshot of a binding.
//
// Loading is true while a submitted request is outstanding, whatever the
// tag of the last resolved request. Failed is true for Error and Exception.
// Data is set for Success, Errors for Error (it may be nil when the server
// answered with a non-2xx status and no errors array) and Err for
// Exception. Status and Header describe the response for Success and Error.
type State[R, E any] struct {
	Tag     Tag
	Loading bool
	Failed  bool

	Data   R
	Errors []E
	Err    error

	Status int
	Header http.Header
}

func successState[R, E any](data R, status int, header http.Header) State[R, E] {
	return State[R, E]{Tag: Success, Data: data, Status: status, Header: header}
}

func errorState[R, E any](errs []E, status int, header http.Header) State[R, E] {
	return State[R, E]{Tag: Error, Failed: true, Errors: errs, Status: status, Header: header}
}

func exceptionState[R, E any](err error) State[R, E] {
	return State[R, E]{Tag: Exception, Failed: true, Err: err}
}
