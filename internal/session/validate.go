package session

import (
	"errors"
	"fmt"
	"regexp"
)

const maxNameLen = 64

var nameChars = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// ValidateName checks that name is usable as a directory and as a flag
// value: lower-case letters, digits, '-' and '_', starting with a letter or
// digit, at most 64 bytes.
func ValidateName(name string) error {
	switch {
	case name == "":
		return errors.New("session name is empty")
	case len(name) > maxNameLen:
		return fmt.Errorf("session name %q is longer than %d characters", name, maxNameLen)
	case !nameChars.MatchString(name):
		return fmt.Errorf("invalid session name %q: use a-z, 0-9, '-' and '_', starting with a letter or digit", name)
	}
	return nil
}
