package auth

import (
	"fmt"

	"github.com/marmos91/dittorpc/internal/xdr"
)

// Unix credential limits, per RFC 5531 Section 8.2 (authsys_parms).
const (
	// maxMachineName bounds the stamp's machine name ("string machinename<255>").
	maxMachineName = 255

	// maxGIDs bounds the supplementary group list ("unsigned int gids<16>").
	maxGIDs = 16
)

// Unix is AUTH_SYS (AUTH_UNIX): the caller's identity as seen by its own
// operating system.
//
// Wire format of the body (RFC 5531 Section 8.2):
//
//	stamp:        uint32  (arbitrary id generated by the caller)
//	machinename:  string  (caller's hostname)
//	uid:          uint32
//	gid:          uint32
//	gids:         uint32<16>
type Unix struct {
	Stamp       uint32
	MachineName string
	UID         uint32
	GID         uint32
	GIDs        []uint32
}

func (u *Unix) Flavor() uint32 { return FlavorUnix }

func (u *Unix) Encode(x *xdr.Buffer) error {
	body := xdr.NewBuffer(MaxBodySize)
	body.BeginEncoding()
	if err := body.EncodeUint32(u.Stamp); err != nil {
		return err
	}
	if len(u.MachineName) > maxMachineName {
		return fmt.Errorf("machine name too long: %d bytes", len(u.MachineName))
	}
	if err := body.EncodeString(u.MachineName); err != nil {
		return err
	}
	if err := body.EncodeUint32(u.UID); err != nil {
		return err
	}
	if err := body.EncodeUint32(u.GID); err != nil {
		return err
	}
	if len(u.GIDs) > maxGIDs {
		return fmt.Errorf("too many gids: %d", len(u.GIDs))
	}
	if err := body.EncodeUint32(uint32(len(u.GIDs))); err != nil {
		return err
	}
	for _, gid := range u.GIDs {
		if err := body.EncodeUint32(gid); err != nil {
			return err
		}
	}
	body.EndEncoding()

	return encodeBlock(x, FlavorUnix, body.Body())
}

func (u *Unix) DecodeBody(data []byte) error {
	x := xdr.Wrap(data, MaxBodySize)

	var err error
	if u.Stamp, err = x.DecodeUint32(); err != nil {
		return fmt.Errorf("decode stamp: %w", err)
	}
	if u.MachineName, err = x.DecodeString(); err != nil {
		return fmt.Errorf("decode machine name: %w", err)
	}
	if len(u.MachineName) > maxMachineName {
		return fmt.Errorf("machine name too long: %d bytes", len(u.MachineName))
	}
	if u.UID, err = x.DecodeUint32(); err != nil {
		return fmt.Errorf("decode uid: %w", err)
	}
	if u.GID, err = x.DecodeUint32(); err != nil {
		return fmt.Errorf("decode gid: %w", err)
	}
	count, err := x.DecodeUint32()
	if err != nil {
		return fmt.Errorf("decode gid count: %w", err)
	}
	if count > maxGIDs {
		return fmt.Errorf("too many gids: %d", count)
	}
	u.GIDs = make([]uint32, count)
	for i := range u.GIDs {
		if u.GIDs[i], err = x.DecodeUint32(); err != nil {
			return fmt.Errorf("decode gid %d: %w", i, err)
		}
	}
	return x.EndDecoding()
}

func (u *Unix) String() string {
	return fmt.Sprintf("AUTH_UNIX(machine=%s uid=%d gid=%d gids=%v)",
		u.MachineName, u.UID, u.GID, u.GIDs)
}
