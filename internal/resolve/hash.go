package resolve

// HashString is the rollout bucket hash: h = (h << 5) - h + c over the
// string's code points with 32-bit signed wraparound, absolute value at the
// end. Rollout membership is externally observable, so this exact function is
// part of the service contract and must not be swapped for another hash.
func HashString(s string) int64 {
	var h int32
	for _, r := range s {
		h = h<<5 - h + int32(r)
	}
	abs := int64(h)
	if abs < 0 {
		abs = -abs
	}
	return abs
}

// RolloutBucket maps a (ruleID, userID) pair onto the 1..100 range.
func RolloutBucket(ruleID, userID string) int64 {
	return HashString(ruleID+":"+userID)%100 + 1
}
