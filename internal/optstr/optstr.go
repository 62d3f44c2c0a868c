// Package optstr reads mount option strings ("rw,noatime,X-mount.subdir=foo").
//
// Options are separated by commas. A value may be enclosed in double quotes,
// in which case commas inside the quotes belong to the value. Values are
// returned verbatim, quotes included; use Unquote to strip them.
package optstr

import (
	"errors"
	"strings"
)

// ErrUnterminatedQuote is returned by Unquote for a value that opens a quote
// and never closes it.
var ErrUnterminatedQuote = errors.New("unterminated quote")

// Option is a single entry of an option string.
type Option struct {
	Name     string
	Value    string
	HasValue bool
}

// String returns the option in name[=value] form.
func (o Option) String() string {
	if !o.HasValue {
		return o.Name
	}
	return o.Name + "=" + o.Value
}

// Parse splits s into options. Empty entries (",,") are skipped.
func Parse(s string) []Option {
	var opts []Option
	for len(s) > 0 {
		var entry string
		entry, s = next(s)
		if entry == "" {
			continue
		}
		name, value, ok := strings.Cut(entry, "=")
		opts = append(opts, Option{Name: name, Value: value, HasValue: ok})
	}
	return opts
}

// next returns the first entry of s and the remainder after its separator.
func next(s string) (string, string) {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				return s[:i], s[i+1:]
			}
		}
	}
	return s, ""
}

// Get looks up the first option called name. found reports whether the
// option is present at all; hasValue whether it carried "=".
func Get(s, name string) (value string, hasValue, found bool) {
	for _, o := range Parse(s) {
		if o.Name == name {
			return o.Value, o.HasValue, true
		}
	}
	return "", false, false
}

// Unquote strips one pair of enclosing double quotes from v. Values that do
// not start with a quote are returned unchanged.
func Unquote(v string) (string, error) {
	if !strings.HasPrefix(v, `"`) {
		return v, nil
	}
	if len(v) < 2 || !strings.HasSuffix(v, `"`) {
		return "", ErrUnterminatedQuote
	}
	return v[1 : len(v)-1], nil
}

// IsUserspace reports whether name is a userspace ("X-" or "x-") option that
// must never reach the kernel.
func IsUserspace(name string) bool {
	return strings.HasPrefix(name, "X-") || strings.HasPrefix(name, "x-")
}

// HasFstabComm reports whether s carries an "X-" option. Lowercase "x-"
// options are comments and do not count.
func HasFstabComm(s string) bool {
	for _, o := range Parse(s) {
		if strings.HasPrefix(o.Name, "X-") {
			return true
		}
	}
	return false
}

// Split separates s into options for the kernel and userspace options, each
// in name[=value] form and in their original order.
func Split(s string) (kernel, user []string) {
	for _, o := range Parse(s) {
		if IsUserspace(o.Name) {
			user = append(user, o.String())
			continue
		}
		kernel = append(kernel, o.String())
	}
	return kernel, user
}
