package socks

import "github.com/pkg/errors"

// MaxCredentialLen bounds a SOCKS5 username or password, whose lengths are
// sent as a single byte (RFC 1929).
const MaxCredentialLen = 255

// Credentials configures SOCKS5 username/password authentication. The zero
// value means no authentication.
type Credentials struct {
	Username string
	Password string
}

// IsZero reports whether no credentials are configured.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

// Validate checks that c can be encoded in an RFC 1929 request.
func (c Credentials) Validate() error {
	if len(c.Username) > MaxCredentialLen {
		return &Error{Op: "credentials", Kind: ErrCredentialTooLong, Err: errors.Errorf("username is %d bytes", len(c.Username))}
	}
	if len(c.Password) > MaxCredentialLen {
		return &Error{Op: "credentials", Kind: ErrCredentialTooLong, Err: errors.Errorf("password is %d bytes", len(c.Password))}
	}
	if c.Username == "" && c.Password != "" {
		return &Error{Op: "credentials", Kind: ErrInvalidCredential, Err: errors.New("password without username")}
	}
	// RFC 1929 PLEN is 1 to 255.
	if c.Username != "" && c.Password == "" {
		return &Error{Op: "credentials", Kind: ErrInvalidCredential, Err: errors.New("username without password")}
	}
	return nil
}

// String omits the password so credentials can be logged.
func (c Credentials) String() string {
	if c.IsZero() {
		return "none"
	}
	return c.Username + ":<redacted>"
}
