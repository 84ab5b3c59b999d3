package opt

import "testing"

func TestCacheLineSize(t *testing.T) {
	if CacheLineSize_ == 0 || CacheLineSize_&(CacheLineSize_-1) != 0 {
		t.Fatalf("CacheLineSize_=%d is not a power of two", CacheLineSize_)
	}
	if PaddingMult_ != 0 && PaddingMult_ != 1 {
		t.Fatalf("PaddingMult_=%d", PaddingMult_)
	}
}
