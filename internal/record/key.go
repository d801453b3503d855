package record

import (
	"strings"

	"github.com/user/audit-service/pkg/utils"
)

// KeyPrefix is the namespace of audit records in the record store.
const KeyPrefix = "audits/"

const keySuffix = ".json"

// Key returns the store key of the audit with the given ID.
func Key(auditID string) string {
	return KeyPrefix + utils.HashID(auditID) + keySuffix
}

// IsKey reports whether key names an audit record.
func IsKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix) && strings.HasSuffix(key, keySuffix)
}
