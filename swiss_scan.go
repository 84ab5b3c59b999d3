package hashsmith

// Control byte classes. An occupied slot stores its 7-bit tag, so the top
// bit alone separates occupied slots from free ones.
const (
	ctrlEmpty   uint8 = 0x80
	ctrlDeleted uint8 = 0xFE

	tagMask   = 0x7F
	groupSize = 16
	// groupWords is the number of packed control words per group.
	groupWords = groupSize / 8
)

// tagOf returns the control byte stored for an occupied slot (H2).
//
//go:nosplit
func tagOf(hash uint32) uint8 {
	return uint8(hash & tagMask)
}

// groupOf returns the bucket selector (H1) of hash.
//
//go:nosplit
func groupOf(hash uint32) uint32 {
	return hash >> 7
}

// matchTag returns the lanes of the group (lo holds lanes 0-7, hi lanes
// 8-15) whose control byte equals tag.
func (s ScanStrategy) matchTag(lo, hi uint64, tag uint8) uint32 {
	if s == ScanScalar {
		return scalarMatch(lo, hi, tag)
	}
	b := broadcast(tag)
	return packMarks(markZeroBytes(lo^b)) | packMarks(markZeroBytes(hi^b))<<8
}

// matchEmpty returns the lanes holding ctrlEmpty.
func (s ScanStrategy) matchEmpty(lo, hi uint64) uint32 {
	return s.matchTag(lo, hi, ctrlEmpty)
}

// matchFree returns the lanes that can take an insertion: empty or deleted.
func (s ScanStrategy) matchFree(lo, hi uint64) uint32 {
	if s == ScanScalar {
		var m uint32
		for j := range 8 {
			if byteAt(lo, j)&0x80 != 0 {
				m |= 1 << j
			}
			if byteAt(hi, j)&0x80 != 0 {
				m |= 1 << (j + 8)
			}
		}
		return m
	}
	return packMarks(lo&hiBits) | packMarks(hi&hiBits)<<8
}

func scalarMatch(lo, hi uint64, b uint8) uint32 {
	var m uint32
	for j := range 8 {
		if byteAt(lo, j) == b {
			m |= 1 << j
		}
	}
	for j := range 8 {
		if byteAt(hi, j) == b {
			m |= 1 << (j + 8)
		}
	}
	return m
}
