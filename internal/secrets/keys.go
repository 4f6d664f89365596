package secrets

import (
	"context"
	"strings"

	"flightplan/internal/types"
)

// TypeSecret is the placeholder type served by the key store.
const TypeSecret = "secret"

// inlinePrefixes maps key types to their placeholder type. SSH keys have none.
var inlinePrefixes = map[types.KeyType]string{
	types.KeyTypeSecret: TypeSecret,
}

// KeyFinder returns every stored key of a type sharing a reference.
type KeyFinder interface {
	FindKeys(keyType types.KeyType, ref string) ([]types.Key, error)
}

// KeyStoreResolver resolves "secret" placeholders from stored keys. A key
// bound to the execution server wins over one bound to its partner, which
// wins over an unscoped key. Keys scoped to other servers or partners never match.
type KeyStoreResolver struct {
	Keys KeyFinder
}

func (r *KeyStoreResolver) Resolve(_ context.Context, sc *Context, ref string) (string, bool, error) {
	keys, err := r.Keys.FindKeys(types.KeyTypeSecret, ref)
	if err != nil {
		return "", false, err
	}
	if k := SelectKey(keys, sc.ServerID, sc.Partner); k != nil {
		return k.SecretValue, true, nil
	}
	return "", false, nil
}

// SelectKey applies server > partner > global precedence to keys. A partner
// key only matches when it is not bound to a server, so a key scoped to
// another server is never used even when its partner matches.
func SelectKey(keys []types.Key, serverID int64, partner string) *types.Key {
	var partnerMatch, globalMatch *types.Key
	for i := range keys {
		k := &keys[i]
		switch {
		case serverID != 0 && k.ServerID == serverID:
			return k
		case k.ServerID == 0 && partner != "" && k.Partner == partner:
			if partnerMatch == nil {
				partnerMatch = k
			}
		case k.ServerID == 0 && k.Partner == "":
			if globalMatch == nil {
				globalMatch = k
			}
		}
	}
	if partnerMatch != nil {
		return partnerMatch
	}
	return globalMatch
}

// GenerateKeyReference derives a reference from a key name: spaces become
// underscores and letters are upper-cased.
func GenerateKeyReference(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}

// InlineReference returns the placeholder that expands to key, or "" for key
// types that cannot be used inline.
func InlineReference(key types.Key) string {
	prefix, ok := inlinePrefixes[key.Type]
	if !ok || key.Reference == "" {
		return ""
	}
	return Marker + "." + prefix + "." + key.Reference + Terminator
}
