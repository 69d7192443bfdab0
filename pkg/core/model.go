package core

import (
	"fmt"
	"strings"
)

// ParseModelString parses a model string in the format "provider/model-name".
func ParseModelString(model string) (provider string, modelName string, err error) {
	parts := strings.SplitN(strings.TrimSpace(model), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", NewInvalidRequestError(
			fmt.Sprintf("invalid model format: %q, expected 'provider/model-name'", model),
		)
	}
	return parts[0], parts[1], nil
}
