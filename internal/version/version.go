package version

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Current is the version of the binary, set at build time via ldflags.
var Current = "0.1.0"

var ErrMalformedVersion = errors.New("malformed version")

// Version is a major.minor.revision triple, compared exactly by the
// daemon version check.
type Version struct {
	Major    int32
	Minor    int32
	Revision int32
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Revision)
}

// Parse reads a "v1.2.3" or "1.2.3" string. Missing trailing components
// are zero; anything after a '-' or '+' is ignored.
func Parse(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexAny(s, "-+"); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return Version{}, ErrMalformedVersion
	}

	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return Version{}, errors.Wrapf(ErrMalformedVersion, "%q", s)
	}
	var nums [3]int32
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 32)
		if err != nil {
			return Version{}, errors.Wrapf(ErrMalformedVersion, "%q", s)
		}
		nums[i] = int32(n)
	}

	return Version{Major: nums[0], Minor: nums[1], Revision: nums[2]}, nil
}

// Build returns the parsed Current version, or 0.0.0 for development builds.
func Build() Version {
	v, err := Parse(Current)
	if err != nil {
		return Version{}
	}
	return v
}
