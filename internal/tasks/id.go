package tasks

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// DefaultIDPrefix starts every task id unless configured otherwise.
const DefaultIDPrefix = "OMEGA"

// NewID returns "<prefix>-<uuidv7>". UUIDv7 is time-ordered and unique
// within the process even for ids minted in the same millisecond.
func NewID(prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate task id: %w", err)
	}
	return prefix + "-" + u.String(), nil
}
