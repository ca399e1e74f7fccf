package schema

import (
	"fmt"
	"strconv"
	"strings"
)

const locationRoot = "root level of experiment description"

// describeLocation maps a structural error path (keys and indices from the
// document root) to a one-line, experiment-description-specific location.
// Rules are applied most specific first; anything unrecognized falls back to
// a generic dotted/bracketed rendering of the path.
func describeLocation(path []string) string {
	if len(path) == 0 {
		return locationRoot
	}

	switch path[0] {
	case "types":
		if len(path) >= 2 {
			return fmt.Sprintf("definition of type %q", path[1])
		}
	case "parameters":
		if len(path) >= 2 {
			return fmt.Sprintf("parameter %q", path[1])
		}
	case "tasks":
		if len(path) >= 2 {
			base := fmt.Sprintf("task plugin %q", path[1])
			if len(path) >= 3 {
				switch path[2] {
				case "outputs":
					return base + " outputs"
				case "inputs":
					return base + " inputs"
				case "plugin":
					return base + " plugin ID"
				}
			}
			return base
		}
	case "graph":
		if len(path) >= 2 {
			base := fmt.Sprintf("step %q", path[1])
			if len(path) >= 3 && path[2] == "dependencies" {
				return base + " dependencies"
			}
			return base
		}
	}

	return genericPath(path)
}

func genericPath(path []string) string {
	var b strings.Builder
	for i, part := range path {
		if _, err := strconv.Atoi(part); err == nil {
			fmt.Fprintf(&b, "[%s]", part)
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(part)
	}
	return b.String()
}
