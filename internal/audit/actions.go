package audit

import (
	"encoding/json"
	"sort"
)

// Actions recorded by the auth and transaction services.
const (
	ActionHandshakeSuccess     = "handshake_success"
	ActionHandshakeFailure     = "handshake_failure"
	ActionTokenRevoked         = "token_revoked"
	ActionTransactionCreated   = "transaction_created"
	ActionTransactionCompleted = "transaction_completed"
	ActionAPIKeyRejected       = "api_key_rejected"
)

// Resources the actions apply to.
const (
	ResourceSession      = "session"
	ResourceTransaction  = "transaction"
	ResourceOrganization = "organization"
)

// Fields encodes key/value metadata as a JSON object with sorted keys. Empty values are dropped.
func Fields(kv map[string]string) string {
	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	clean := make(map[string]string, len(keys))
	for _, k := range keys {
		clean[k] = kv[k]
	}
	b, err := json.Marshal(clean)
	if err != nil {
		return ""
	}
	return string(b)
}
