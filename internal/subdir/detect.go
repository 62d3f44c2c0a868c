// Package subdir implements the X-mount.subdir mount option: the source is
// mounted on a staging directory inside a private mount namespace and only
// the requested subdirectory is bound onto the real target.
package subdir

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spin-stack/submount/internal/lifecycle"
	"github.com/spin-stack/submount/internal/optstr"
)

const (
	// HooksetName identifies the hookset in the dispatch engine.
	HooksetName = "__subdir"

	// OptionName is the option requesting the redirection.
	OptionName = "X-mount.subdir"
)

// Detect extracts the subdirectory requested in options. found is false when
// the option is absent. A present option without a usable value is
// ErrMalformedOption.
func Detect(options string) (subdir string, found bool, err error) {
	v, hasValue, found := optstr.Get(options, OptionName)
	if !found {
		return "", false, nil
	}
	if !hasValue {
		return "", false, fmt.Errorf("%w: %s requires a value", lifecycle.ErrMalformedOption, OptionName)
	}

	v, err = optstr.Unquote(v)
	if err != nil {
		return "", false, fmt.Errorf("%w: %s: %w", lifecycle.ErrMalformedOption, OptionName, err)
	}
	if v == "" {
		return "", false, fmt.Errorf("%w: %s is empty", lifecycle.ErrMalformedOption, OptionName)
	}
	if !filepath.IsLocal(strings.TrimLeft(v, "/")) {
		return "", false, fmt.Errorf("%w: %s=%q escapes the mounted filesystem", lifecycle.ErrMalformedOption, OptionName, v)
	}
	return v, true, nil
}
