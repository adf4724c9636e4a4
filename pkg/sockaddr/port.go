package sockaddr

import (
	"fmt"
	"strconv"
)

// ToPort converts a decimal port string.
//
// An empty string is port 0. Anything other than digits is ErrInvalidPort.
// More than five characters, or a value above 65535, is ErrPortOutOfRange,
// except that a long run of zeros is ErrInvalidPort.
func ToPort(s string) (uint16, error) {
	if s == "" {
		return 0, nil
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
		}
	}
	if len(s) > 5 {
		for i := 0; i < len(s); i++ {
			if s[i] != '0' {
				return 0, fmt.Errorf("%w: %q", ErrPortOutOfRange, s)
			}
		}
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPort, s)
	}
	if n > 65535 {
		return 0, fmt.Errorf("%w: %q", ErrPortOutOfRange, s)
	}
	return uint16(n), nil
}
