package model

// CanonicalID normalizes the two identifier fields an entity may carry
// into one string key. The server's REST surface and push events are not
// consistent about which field they populate, so every cache lookup goes
// through this. Pure and total: both fields absent yields "", which
// SameKey treats as matching nothing.
func CanonicalID(oid, alt string) string {
	if oid != "" {
		return oid
	}
	return alt
}

// SameKey reports whether two canonical ids refer to the same entity.
// Empty keys are invalid and never match, including each other.
func SameKey(a, b string) bool {
	return a != "" && a == b
}
