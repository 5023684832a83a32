// Package auth implements the RPC authentication-flavor abstraction.
//
// Per RFC 5531 Section 8, every call carries a credential and a verifier,
// each an opaque auth block: a 4-byte flavor code followed by a
// variable-length opaque body whose shape is flavor-specific. The package
// keeps a registry of flavor constructors so that new flavors can be added
// without touching the decode path.
package auth

import (
	"fmt"
	"sync"

	"github.com/marmos91/dittorpc/internal/xdr"
)

// Authentication flavor codes.
//
// Reference: RFC 5531 Section 8.2 and RFC 2203 (RPCSEC_GSS).
const (
	// FlavorNone is AUTH_NONE: no authentication, empty body.
	FlavorNone = 0

	// FlavorUnix is AUTH_SYS (historically AUTH_UNIX): stamp, machine name,
	// uid, gid and supplementary gids.
	FlavorUnix = 1

	// FlavorGSS is RPCSEC_GSS (RFC 2203).
	FlavorGSS = 6
)

// Authentication status codes carried by AUTH_ERROR rejections.
//
// Reference: RFC 5531 Section 9 (auth_stat).
const (
	StatOK           = 0
	StatBadCred      = 1 // bad or unsupported credential
	StatRejectedCred = 2 // client must begin new session
	StatBadVerf      = 3 // bad verifier
	StatRejectedVerf = 4 // verifier expired or replayed
	StatTooWeak      = 5 // rejected for security reasons
	StatInvalidResp  = 6 // bogus response verifier
	StatFailed       = 7 // reason unknown
)

// MaxBodySize is the largest permitted auth body, per RFC 5531 Section 8.2
// ("opaque body<400>").
const MaxBodySize = 400

// Auth is a credential or verifier of some flavor. A credential and a
// verifier are independent instances; a call's verifier flavor need not match
// its credential flavor.
type Auth interface {
	// Flavor returns the numeric flavor code.
	Flavor() uint32

	// Encode writes the full auth block: flavor, then the flavor-specific
	// body as dynamic opaque data.
	Encode(x *xdr.Buffer) error

	// DecodeBody populates the variant from the raw body bytes of an auth
	// block (the dynamic opaque payload, without flavor or length prefix).
	DecodeBody(body []byte) error
}

// Error is an authentication failure carrying an auth_stat code. It is
// surfaced to servers so that a well-formed AUTH_ERROR rejection can still be
// produced for the already-decoded xid.
type Error struct {
	Stat uint32
}

func (e *Error) Error() string {
	return fmt.Sprintf("auth error: %s", statName(e.Stat))
}

func statName(stat uint32) string {
	switch stat {
	case StatOK:
		return "AUTH_OK"
	case StatBadCred:
		return "AUTH_BADCRED"
	case StatRejectedCred:
		return "AUTH_REJECTEDCRED"
	case StatBadVerf:
		return "AUTH_BADVERF"
	case StatRejectedVerf:
		return "AUTH_REJECTEDVERF"
	case StatTooWeak:
		return "AUTH_TOOWEAK"
	case StatInvalidResp:
		return "AUTH_INVALIDRESP"
	case StatFailed:
		return "AUTH_FAILED"
	default:
		return fmt.Sprintf("AUTH_STAT(%d)", stat)
	}
}

var (
	registryMu sync.RWMutex
	registry   = map[uint32]func() Auth{
		FlavorNone: func() Auth { return &None{} },
		FlavorUnix: func() Auth { return &Unix{} },
		FlavorGSS:  func() Auth { return &GSS{} },
	}
)

// Register adds a flavor constructor to the registry, replacing any existing
// entry for the same flavor code. Safe for concurrent use.
func Register(flavor uint32, fn func() Auth) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[flavor] = fn
}

// Decode reads one auth block from the buffer and dispatches to the matching
// variant constructor.
//
// An unrecognized flavor code yields *Error with AUTH_BADCRED before the body
// is consumed, so callers can abort header decoding without reading further
// fields. A body that fails its flavor-specific decode also yields
// AUTH_BADCRED.
func Decode(x *xdr.Buffer) (Auth, error) {
	flavor, err := x.DecodeUint32()
	if err != nil {
		return nil, fmt.Errorf("decode auth flavor: %w", err)
	}

	registryMu.RLock()
	fn, ok := registry[flavor]
	registryMu.RUnlock()
	if !ok {
		return nil, &Error{Stat: StatBadCred}
	}

	body, err := x.DecodeDynamicOpaque()
	if err != nil {
		return nil, fmt.Errorf("decode auth body: %w", err)
	}
	if len(body) > MaxBodySize {
		return nil, &Error{Stat: StatBadCred}
	}

	a := fn()
	if err := a.DecodeBody(body); err != nil {
		return nil, &Error{Stat: StatBadCred}
	}
	return a, nil
}

// encodeBlock writes flavor plus body as one auth block. Shared by the
// built-in variants.
func encodeBlock(x *xdr.Buffer, flavor uint32, body []byte) error {
	if len(body) > MaxBodySize {
		return fmt.Errorf("auth body of %d bytes exceeds %d byte limit", len(body), MaxBodySize)
	}
	if err := x.EncodeUint32(flavor); err != nil {
		return fmt.Errorf("encode auth flavor: %w", err)
	}
	if err := x.EncodeDynamicOpaque(body); err != nil {
		return fmt.Errorf("encode auth body: %w", err)
	}
	return nil
}

// None is AUTH_NONE: an empty body.
type None struct{}

func (n *None) Flavor() uint32 { return FlavorNone }

func (n *None) Encode(x *xdr.Buffer) error {
	return encodeBlock(x, FlavorNone, nil)
}

func (n *None) DecodeBody(body []byte) error {
	if len(body) != 0 {
		return fmt.Errorf("AUTH_NONE body must be empty, got %d bytes", len(body))
	}
	return nil
}

func (n *None) String() string { return "AUTH_NONE" }
