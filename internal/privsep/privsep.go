// Package privsep drops root privileges after the TFTP socket is bound:
// os/user resolves the configured user/group by name, and syscall performs
// the actual uid/gid/umask switch (see DESIGN.md).
package privsep

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/example/tftpd-aio/internal/config"
	"github.com/example/tftpd-aio/internal/utils"
)

// Drop applies cfg.Privsep after the listening socket is already bound: it
// switches to the configured group and user, in that order (group must
// change before user, since dropping the user first usually revokes the
// permission to change group), then sets the process umask. The umask is
// parsed before either switch, so an invalid value changes nothing. A
// non-empty user/group on a non-root process is an error; an empty
// user/group is a no-op so unprivileged deployments (e.g. behind a
// port-forwarding rule) don't need to set anything.
func Drop(cfg *config.Config, logger *utils.Logger) error {
	mask := -1
	if cfg.Privsep.Umask != "" {
		m, err := strconv.ParseUint(cfg.Privsep.Umask, 8, 32)
		if err != nil {
			return fmt.Errorf("invalid umask %q: %w", cfg.Privsep.Umask, err)
		}
		mask = int(m)
	}

	if cfg.Privsep.Group != "" {
		gid, err := lookupGID(cfg.Privsep.Group)
		if err != nil {
			return fmt.Errorf("failed to resolve group %q: %w", cfg.Privsep.Group, err)
		}
		if err := setgid(gid); err != nil {
			return fmt.Errorf("failed to drop to group %q: %w", cfg.Privsep.Group, err)
		}
		logger.Debug("dropped to group %s (gid %d)", cfg.Privsep.Group, gid)
	}

	if cfg.Privsep.User != "" {
		uid, err := lookupUID(cfg.Privsep.User)
		if err != nil {
			return fmt.Errorf("failed to resolve user %q: %w", cfg.Privsep.User, err)
		}
		if err := setuid(uid); err != nil {
			return fmt.Errorf("failed to drop to user %q: %w", cfg.Privsep.User, err)
		}
		logger.Info("dropped privileges to user %s (uid %d)", cfg.Privsep.User, uid)
	}

	if mask >= 0 {
		applyUmask(mask)
		logger.Debug("applied umask %s", cfg.Privsep.Umask)
	}

	return nil
}

func lookupUID(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func lookupGID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}
