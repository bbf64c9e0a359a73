package util

// MaskIsMaskAll reports whether every byte of a non-empty mask is 0xFF.
func MaskIsMaskAll(mask []byte) bool {
	if len(mask) == 0 {
		return false
	}

	for _, val := range mask {
		if val != 0xFF {
			return false
		}
	}

	return true
}

func MaskIsMaskNone(mask []byte) bool {
	for _, val := range mask {
		if val != 0 {
			return false
		}
	}

	return true
}

// MaskApply ands val with mask into a new slice of the same length.
func MaskApply(val, mask []byte) []byte {
	out := make([]byte, len(val))
	for i := range val {
		if i < len(mask) {
			out[i] = val[i] & mask[i]
		}
	}
	return out
}
