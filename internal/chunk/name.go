package chunk

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const stagingPrefix = "chunk-"

var suffixPattern = regexp.MustCompile(`^(.+)-(\d+)$`)

// LogicalName strips a trailing "-<digits>" suffix from a chunk name. A name
// without a suffix is its own base and reports ok=false.
func LogicalName(name string) (base string, index int, ok bool) {
	m := suffixPattern.FindStringSubmatch(name)
	if m == nil {
		return name, 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return name, 0, false
	}
	return m[1], n, true
}

// ValidateName rejects names that could escape the staging or merge directory.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrValidation)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrValidation, name)
	case strings.ContainsAny(name, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrValidation, name)
	}
	return nil
}
