package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// callbackPrefix tags project-selection callback tokens.
const callbackPrefix = "project_"

// FormatProjectCallback encodes a project GID and draft key as a single
// callback token: "project_<gid>:<key>".
func FormatProjectCallback(projectGID string, draftKey int64) string {
	return fmt.Sprintf("%s%s:%d", callbackPrefix, projectGID, draftKey)
}

// ParseProjectCallback decodes a project-selection callback token.
// Malformed tokens are rejected without touching any pipeline state.
func ParseProjectCallback(data string) (projectGID string, draftKey int64, err error) {
	if !strings.HasPrefix(data, callbackPrefix) {
		return "", 0, fmt.Errorf("unexpected callback prefix: %q", data)
	}

	rest := strings.TrimPrefix(data, callbackPrefix)
	gid, key, ok := strings.Cut(rest, ":")
	if !ok {
		return "", 0, fmt.Errorf("missing draft key separator: %q", data)
	}
	if gid == "" {
		return "", 0, fmt.Errorf("empty project id: %q", data)
	}

	draftKey, err = strconv.ParseInt(key, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid draft key %q: %w", key, err)
	}

	return gid, draftKey, nil
}
