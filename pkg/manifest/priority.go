package manifest

import "fmt"

// Priority returns the conflict-resolution weight of a content type. When two
// manifests provide the same relative path, the file from the higher weight
// wins.
//
// Weights are distinct so the order is total:
//
//	Mod 100 > Patch 90 > GameClient 50 > MapPack 40 > Addon 35 > Map 30 >
//	Mission 25 > LanguagePack 20 > ContentBundle 15 > GameInstallation 10
//
// A ContentType without a weight panics.
func (t ContentType) Priority() int {
	switch t {
	case ContentTypeMod:
		return 100
	case ContentTypePatch:
		return 90
	case ContentTypeGameClient:
		return 50
	case ContentTypeMapPack:
		return 40
	case ContentTypeAddon:
		return 35
	case ContentTypeMap:
		return 30
	case ContentTypeMission:
		return 25
	case ContentTypeLanguagePack:
		return 20
	case ContentTypeContentBundle:
		return 15
	case ContentTypeGameInstallation:
		return 10
	}
	panic(fmt.Sprintf("manifest: no priority assigned to %s", t))
}

// Outranks reports whether t wins a path conflict against other.
func (t ContentType) Outranks(other ContentType) bool {
	return t.Priority() > other.Priority()
}
