package nfc

import "testing"

func TestClassicSectorGeometry(t *testing.T) {
	tests := []struct {
		sector, first, count, trailer int
	}{
		{0, 0, 4, 3},
		{1, 4, 4, 7},
		{31, 124, 4, 127},
		{32, 128, 16, 143},
		{39, 240, 16, 255},
	}
	for _, tt := range tests {
		if got := ClassicSectorFirstBlock(tt.sector); got != tt.first {
			t.Errorf("ClassicSectorFirstBlock(%d) = %d, want %d", tt.sector, got, tt.first)
		}
		if got := ClassicSectorBlockCount(tt.sector); got != tt.count {
			t.Errorf("ClassicSectorBlockCount(%d) = %d, want %d", tt.sector, got, tt.count)
		}
		if got := ClassicSectorTrailer(tt.sector); got != tt.trailer {
			t.Errorf("ClassicSectorTrailer(%d) = %d, want %d", tt.sector, got, tt.trailer)
		}
		for b := tt.first; b <= tt.trailer; b++ {
			if got := ClassicSectorOfBlock(b); got != tt.sector {
				t.Errorf("ClassicSectorOfBlock(%d) = %d, want %d", b, got, tt.sector)
			}
		}
	}
}

func TestClassicSectorCount(t *testing.T) {
	for size, want := range map[int]int{320: 5, 1024: 16, 2048: 32, 4096: 40, 512: 0} {
		if got := ClassicSectorCount(size); got != want {
			t.Errorf("ClassicSectorCount(%d) = %d, want %d", size, got, want)
		}
	}
}
