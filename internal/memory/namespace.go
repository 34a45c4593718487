package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/fablesmith/storyd/internal/embedding"
)

// Collection names are derived from identifier hashes rather than raw
// IDs, which bounds name length and keeps tenant identifiers out of
// storage names. Local mode uses the bare (user, project) name so old
// data stays reachable; api mode appends an embedding-generation suffix
// because each (provider, model) pair is its own vector space.

func hashPart(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

// collectionBase is the family prefix shared by every generation of a
// project's collections.
func collectionBase(userID, projectID string) string {
	return "u_" + hashPart(userID) + "_p_" + hashPart(projectID)
}

// CollectionName derives the collection for a resolved embedding
// configuration. Deterministic: equal inputs always map to equal names.
func CollectionName(userID, projectID string, cfg embedding.Config) string {
	base := collectionBase(userID, projectID)
	if cfg.Mode != embedding.ModeAPI {
		return base
	}
	return base + "_e_" + hashPart(cfg.Provider+":"+cfg.Model)
}

// familyNames filters all known collection names down to the ones
// belonging to the (user, project) family, whatever embedding
// configuration created them.
func familyNames(all []string, userID, projectID string) []string {
	prefix := collectionBase(userID, projectID)
	var names []string
	for _, name := range all {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	return names
}
