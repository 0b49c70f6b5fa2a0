package session

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName rejects session names that would not make a safe directory
// component: lowercase alphanumerics, hyphen and underscore, 1 to 64
// characters.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("session name %q must match %s", name, nameRegexp)
	}
	return nil
}
