package mountutil

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/containerd/log"

	"github.com/spin-stack/submount/internal/hook"
	"github.com/spin-stack/submount/internal/lifecycle"
	"github.com/spin-stack/submount/internal/mnt"
	"github.com/spin-stack/submount/internal/optstr"
)

const (
	// MkdirHooksetName identifies the mkdir hookset in the dispatch engine.
	MkdirHooksetName = "__mkdir"

	// MkdirOption creates the mount point when it does not exist.
	// Format: X-mount.mkdir[=mode[:uid[:gid]]], mode in octal.
	MkdirOption = "X-mount.mkdir"

	defaultMkdirMode os.FileMode = 0o755
)

type mkdirSpec struct {
	Mode os.FileMode
	UID  int
	GID  int
}

// parseMkdirOption parses the value of X-mount.mkdir.
func parseMkdirOption(value string, hasValue bool) (*mkdirSpec, error) {
	spec := &mkdirSpec{Mode: defaultMkdirMode, UID: -1, GID: -1}
	if !hasValue {
		return spec, nil
	}

	value, err := optstr.Unquote(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", lifecycle.ErrMalformedOption, MkdirOption, err)
	}
	if value == "" {
		return spec, nil
	}

	part := strings.SplitN(value, ":", 3)
	switch len(part) {
	case 3:
		gid, err := strconv.Atoi(part[2])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid gid %q in %s: %w", lifecycle.ErrMalformedOption, part[2], MkdirOption, err)
		}
		spec.GID = gid
		fallthrough
	case 2:
		uid, err := strconv.Atoi(part[1])
		if err != nil {
			return nil, fmt.Errorf("%w: invalid uid %q in %s: %w", lifecycle.ErrMalformedOption, part[1], MkdirOption, err)
		}
		spec.UID = uid
		fallthrough
	default:
		m, err := strconv.ParseUint(part[0], 8, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid mode %q in %s: %w", lifecycle.ErrMalformedOption, part[0], MkdirOption, err)
		}
		if m&^0o7777 != 0 {
			return nil, fmt.Errorf("%w: mode %q out of range in %s", lifecycle.ErrMalformedOption, part[0], MkdirOption)
		}
		spec.Mode = os.FileMode(m)
	}
	return spec, nil
}

// Mkdir is the hookset creating the mount point for X-mount.mkdir.
type Mkdir struct{}

var _ hook.Hookset = Mkdir{}

func (Mkdir) Name() string { return MkdirHooksetName }

func (m Mkdir) Init(context.Context, *hook.Context) ([]hook.Registration, error) {
	return []hook.Registration{{
		Stage:   hook.StagePrepTarget,
		Hookset: MkdirHooksetName,
		Name:    "mkdir",
		Fn:      m.prepareTarget,
	}}, nil
}

func (Mkdir) Deinit(_ context.Context, c *hook.Context) error {
	c.RemoveHooks(MkdirHooksetName)
	return nil
}

func (Mkdir) prepareTarget(ctx context.Context, c *hook.Context, _ any) ([]hook.Registration, error) {
	if c.Action() != mnt.ActionMount {
		return nil, nil
	}
	value, hasValue, found := optstr.Get(c.FS().Options(), MkdirOption)
	if !found {
		return nil, nil
	}
	spec, err := parseMkdirOption(value, hasValue)
	if err != nil {
		return nil, err
	}

	dir := c.FS().Target()
	if err := os.MkdirAll(dir, spec.Mode); err != nil {
		return nil, fmt.Errorf("create mount point: %w", err)
	}
	if spec.UID != -1 || spec.GID != -1 {
		if err := os.Chown(dir, spec.UID, spec.GID); err != nil {
			return nil, fmt.Errorf("failed to chown %q to %d:%d: %w", dir, spec.UID, spec.GID, err)
		}
	}
	log.G(ctx).WithFields(log.Fields{
		"path": dir,
		"mode": fmt.Sprintf("%#o", spec.Mode),
	}).Debug("mount point ready")
	return nil, nil
}
