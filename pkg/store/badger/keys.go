package badger

// Key Namespace
// =============
//
// Data Type            Prefix  Key Format             Value
// ==========================================================================
// Workspace record     "w:"    w:<workspaceID>        workspaceRecord (JSON)
// Reference            "r:"    r:<hash>:<workspaceID> empty
// Reverse reference    "x:"    x:<workspaceID>:<hash> empty
// Schema version       "meta:" meta:version           uint32 (binary)
//
// Workspace IDs are restricted to [A-Za-z0-9._-] and hashes to lowercase
// hex, so ':' never appears inside a component and prefix scans are exact.
//
// The reference table is stored twice (r: and x:) so both "who references
// this hash" (reference counts, GC) and "what does this workspace
// reference" (cleanup) are prefix scans. Both entries are written in the
// same transaction.

const (
	prefixWorkspace = "w:"
	prefixRef       = "r:"
	prefixReverse   = "x:"
	keyVersion      = "meta:version"

	schemaVersion uint32 = 1
)

func keyWorkspace(id string) []byte {
	return []byte(prefixWorkspace + id)
}

func keyRef(hash, workspaceID string) []byte {
	return []byte(prefixRef + hash + ":" + workspaceID)
}

func keyRefPrefix(hash string) []byte {
	return []byte(prefixRef + hash + ":")
}

func keyReverse(workspaceID, hash string) []byte {
	return []byte(prefixReverse + workspaceID + ":" + hash)
}

func keyReversePrefix(workspaceID string) []byte {
	return []byte(prefixReverse + workspaceID + ":")
}
