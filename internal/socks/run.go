package socks

import "io"

// Machine is a client handshake state machine that performs no I/O.
//
// Start returns the first bytes to send and the number of reply bytes the
// machine needs next. Next consumes exactly that many bytes and returns the
// following output and demand. A demand of zero with a nil error means the
// handshake is complete.
type Machine interface {
	Start() (out []byte, need int, err error)
	Next(in []byte) (out []byte, need int, err error)
	// Phase names the protocol phase the machine is in, for errors and logs.
	Phase() string
}

// Run drives m over rw until it completes or fails.
//
// Run never reads more than m asks for, so the first byte rw yields after a
// successful return is the first byte relayed from the destination.
// Read failures, including EOF and deadline expiry, are reported as
// ErrTruncatedReply; write failures as ErrProxyUnreachable.
func Run(rw io.ReadWriter, m Machine) error {
	out, need, err := m.Start()
	for {
		if err != nil {
			return err
		}

		if len(out) > 0 {
			if _, err := rw.Write(out); err != nil {
				return &Error{Op: m.Phase(), Kind: ErrProxyUnreachable, Err: err}
			}
		}
		if need == 0 {
			return nil
		}

		in := make([]byte, need)
		if _, err := io.ReadFull(rw, in); err != nil {
			return &Error{Op: m.Phase(), Kind: ErrTruncatedReply, Err: err}
		}

		out, need, err = m.Next(in)
	}
}
