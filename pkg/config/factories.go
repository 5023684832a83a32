package config

import (
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"

	"github.com/marmos91/dittorpc/internal/protocol/rpc/auth"
)

// BuildClientAuth creates the credential attached to outbound calls.
//
// This factory uses the Flavor field to determine which flavor to build, then
// decodes the flavor-specific options from the corresponding map.
//
// Supported flavors:
//   - "none": AUTH_NONE, empty body
//   - "unix": AUTH_UNIX with the configured identity
func BuildClientAuth(cfg *AuthConfig) (auth.Auth, error) {
	switch cfg.Flavor {
	case "none":
		return &auth.None{}, nil
	case "unix":
		return buildUnixAuth(cfg.Unix)
	default:
		return nil, fmt.Errorf("unknown auth flavor: %q", cfg.Flavor)
	}
}

// buildUnixAuth decodes the AUTH_UNIX options and fills in host defaults.
func buildUnixAuth(options map[string]any) (auth.Auth, error) {
	// Flavor-specific configuration, decoded from the untyped section
	type UnixAuthOptions struct {
		MachineName string   `mapstructure:"machine_name"`
		UID         uint32   `mapstructure:"uid"`
		GID         uint32   `mapstructure:"gid"`
		GIDs        []uint32 `mapstructure:"gids"`
	}

	var opts UnixAuthOptions
	if err := mapstructure.Decode(options, &opts); err != nil {
		return nil, fmt.Errorf("decode unix auth options: %w", err)
	}

	if opts.MachineName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "localhost"
		}
		opts.MachineName = hostname
	}
	if len(opts.GIDs) > 16 {
		return nil, fmt.Errorf("too many gids: %d (maximum 16)", len(opts.GIDs))
	}

	return &auth.Unix{
		MachineName: opts.MachineName,
		UID:         opts.UID,
		GID:         opts.GID,
		GIDs:        opts.GIDs,
	}, nil
}
