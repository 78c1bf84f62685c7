package catalog

import (
	"fmt"
	"strconv"
	"strings"
)

// ReviseVersion increments one component of a dotted numeric version such
// as "1.4.2" and resets the components after it. Missing components count
// as zero and a leading "v" is kept, so ReviseVersion("2", RevisionMinor) is "2.1.0". Tokens that are
// not dotted integers cannot be revised and yield a ValidationError.
func ReviseVersion(current string, level RevisionLevel) (string, error) {
	var idx int
	switch level {
	case RevisionMajor:
		idx = 0
	case RevisionMinor:
		idx = 1
	case RevisionPatch:
		idx = 2
	default:
		return "", &ValidationError{Field: "level", Reason: fmt.Sprintf("unknown revision level %q", level)}
	}

	prefix := ""
	if strings.HasPrefix(current, "v") {
		prefix = "v"
	}
	parts := strings.Split(strings.TrimPrefix(current, prefix), ".")
	if len(parts) > 3 {
		return "", &ValidationError{Field: "version", Reason: fmt.Sprintf("%q has more than three components", current)}
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return "", &ValidationError{Field: "version", Reason: fmt.Sprintf("%q is not a dotted numeric version", current)}
		}
		nums[i] = n
	}

	nums[idx]++
	for i := idx + 1; i < len(nums); i++ {
		nums[i] = 0
	}
	return fmt.Sprintf("%s%d.%d.%d", prefix, nums[0], nums[1], nums[2]), nil
}
