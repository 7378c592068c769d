package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GenerateUUIDWithSuffix generates a UUID with a given module name as a suffix.
// This is useful for creating unique identifiers with context-specific prefixes.
func GenerateUUIDWithSuffix(module string) string {
	id := uuid.New() // Generate a new UUID.
	uuidStr := id.String()
	idWithSuffix := fmt.Sprintf("%s_%s", module, uuidStr) // Append the module as a suffix to the UUID.
	return idWithSuffix
}

// SettlementKey joins a channel and an external reference into the key used
// for outcome caching, distributed locks and task ids.
func SettlementKey(channel, externalReference string) string {
	return fmt.Sprintf("%s:%s", channel, externalReference)
}
