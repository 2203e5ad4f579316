package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	var de *DocError
	if !stderrors.As(err, &de) {
		de = Wrap(ErrCodeInternal, err)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", de.Message))
	if de.Cause != nil && de.Cause.Error() != de.Message {
		sb.WriteString(fmt.Sprintf("  Cause: %v\n", de.Cause))
	}
	if de.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", de.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", de.Code))

	return sb.String()
}
