/*Package comm defines the contract between instrument drivers and the
transports that carry their traffic.

A Session is a synchronous command/response channel: Write sends one
complete command, Query sends one and reads the single reply.  Exactly
one operation is in flight at a time; callers serialize.  The usbtmc
package provides the hardware implementation, and the keysight package
provides simulated ones for tests and mock serving.

Failures that occur at or after transmission are wrapped in *Error so
callers can tell a wire problem from a rejected request that never left
the process.
*/
package comm

import (
	"errors"
	"fmt"
	"io"
)

// ErrNotConnected is returned when a session is used after Close.
var ErrNotConnected = errors.New("not connected to instrument")

// Session is a synchronous command/response channel to one instrument.
type Session interface {
	io.Closer

	// Write sends one complete command.
	Write(cmd string) error

	// Query sends one command and returns the reply with the
	// terminator stripped.
	Query(cmd string) (string, error)
}

// Error is a communication failure: the command was transmitted, or
// transmission was attempted, and something went wrong at or beyond the
// wire.  Op names the operation for context.  The underlying cause is
// never retried or resynced; it is surfaced as-is.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap boxes err into an *Error tagged with op.  A nil err stays nil,
// and an err that is already an *Error is returned unchanged so layered
// calls do not stack tags.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Op: op, Err: err}
}
