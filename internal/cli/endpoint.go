// Package cli resolves command-line arguments and configuration into a
// concrete connection endpoint.
package cli

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/bashx-org/bxssh/internal/config"
)

// ErrUsage marks errors caused by bad command-line input; callers map it
// to the usage exit code.
var ErrUsage = errors.New("usage error")

// Endpoint is a fully resolved connection target.
type Endpoint struct {
	User         string
	Host         string
	Port         int
	IdentityPath string
}

// ParseTarget splits a "user@host", "user@host:port" or bare "host"
// argument. Missing parts stay zero for later resolution.
func ParseTarget(target string) (Endpoint, error) {
	if target == "" {
		return Endpoint{}, fmt.Errorf("%w: missing destination", ErrUsage)
	}

	ep := Endpoint{}
	rest := target

	if i := strings.LastIndex(rest, "@"); i >= 0 {
		ep.User = rest[:i]
		rest = rest[i+1:]
		if ep.User == "" {
			return Endpoint{}, fmt.Errorf("%w: empty user in %q", ErrUsage, target)
		}
	}

	// A single colon separates a port; more than one without brackets is a
	// bare IPv6 literal.
	if i := strings.LastIndex(rest, ":"); i >= 0 && !strings.Contains(rest, "]") && strings.Count(rest, ":") == 1 {
		portStr := rest[i+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return Endpoint{}, fmt.Errorf("%w: bad port %q in %q", ErrUsage, portStr, target)
		}
		ep.Port = port
		rest = rest[:i]
	}

	// Bracketed IPv6 literal, e.g. [::1]:2222 or [::1].
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return Endpoint{}, fmt.Errorf("%w: unterminated address in %q", ErrUsage, target)
		}
		host := rest[1:end]
		if tail := rest[end+1:]; tail != "" {
			if !strings.HasPrefix(tail, ":") {
				return Endpoint{}, fmt.Errorf("%w: bad destination %q", ErrUsage, target)
			}
			port, err := strconv.Atoi(tail[1:])
			if err != nil || port <= 0 || port > 65535 {
				return Endpoint{}, fmt.Errorf("%w: bad port %q in %q", ErrUsage, tail[1:], target)
			}
			ep.Port = port
		}
		rest = host
	}

	if rest == "" {
		return Endpoint{}, fmt.Errorf("%w: empty host in %q", ErrUsage, target)
	}
	ep.Host = rest
	return ep, nil
}

// Resolve merges the parsed target with flag overrides, matching host
// config entries, config defaults, and finally the local login name.
// Flags always win; an explicit user both in the target and -u is a
// conflict the user must resolve.
func Resolve(ep Endpoint, flagUser string, flagPort int, flagIdentity string, cfg *config.Config) (Endpoint, error) {
	if flagUser != "" {
		if ep.User != "" && ep.User != flagUser {
			return Endpoint{}, fmt.Errorf("%w: user given both as %q and -u %q", ErrUsage, ep.User, flagUser)
		}
		ep.User = flagUser
	}
	if flagPort != 0 {
		if flagPort < 0 || flagPort > 65535 {
			return Endpoint{}, fmt.Errorf("%w: bad port %d", ErrUsage, flagPort)
		}
		ep.Port = flagPort
	}
	if flagIdentity != "" {
		ep.IdentityPath = flagIdentity
	}

	if cfg != nil {
		if hc := cfg.HostFor(ep.Host); hc != nil {
			if hc.HostName != "" {
				ep.Host = hc.HostName
			}
			if ep.User == "" {
				ep.User = hc.User
			}
			if ep.Port == 0 {
				ep.Port = hc.Port
			}
			if ep.IdentityPath == "" {
				ep.IdentityPath = hc.IdentityPath
			}
		}
		if ep.User == "" {
			ep.User = cfg.Defaults.User
		}
		if ep.Port == 0 {
			ep.Port = cfg.Defaults.Port
		}
		if ep.IdentityPath == "" {
			ep.IdentityPath = cfg.Defaults.IdentityPath
		}
	}

	if ep.User == "" {
		ep.User = localUser()
	}
	if ep.User == "" {
		return Endpoint{}, fmt.Errorf("%w: no user given and none could be inferred", ErrUsage)
	}
	if ep.Port == 0 {
		ep.Port = 22
	}
	return ep, nil
}

// String renders user@host with the port when it differs from 22.
func (e Endpoint) String() string {
	if e.Port != 0 && e.Port != 22 {
		return fmt.Sprintf("%s@%s:%d", e.User, e.Host, e.Port)
	}
	return fmt.Sprintf("%s@%s", e.User, e.Host)
}

func localUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
