package nfc

// Mifare Classic memory is split into sectors of 4 blocks, except on 4K
// cards where sectors 32 to 39 hold 16 blocks each.
const (
	ClassicBlockSize = 16

	classicSmallSectors      = 32
	classicSmallSectorBlocks = 4
	classicLargeSectorBlocks = 16
	classicLargeSectorsStart = classicSmallSectors * classicSmallSectorBlocks
)

// ClassicSectorCount returns the number of sectors of a card with size
// bytes of memory, or 0 for a size no Classic card has.
func ClassicSectorCount(size int) int {
	switch size {
	case 320:
		return 5
	case 1024:
		return 16
	case 2048:
		return 32
	case 4096:
		return 40
	}
	return 0
}

// ClassicSectorFirstBlock returns the first block of sector. sector must
// not be negative.
func ClassicSectorFirstBlock(sector int) int {
	if sector < classicSmallSectors {
		return sector * classicSmallSectorBlocks
	}
	return classicLargeSectorsStart + (sector-classicSmallSectors)*classicLargeSectorBlocks
}

// ClassicSectorBlockCount returns the number of blocks in sector, trailer
// included.
func ClassicSectorBlockCount(sector int) int {
	if sector < classicSmallSectors {
		return classicSmallSectorBlocks
	}
	return classicLargeSectorBlocks
}

func ClassicSectorTrailer(sector int) int {
	return ClassicSectorFirstBlock(sector) + ClassicSectorBlockCount(sector) - 1
}

// ClassicSectorOfBlock returns the sector holding block.
func ClassicSectorOfBlock(block int) int {
	if block < classicLargeSectorsStart {
		return block / classicSmallSectorBlocks
	}
	return classicSmallSectors + (block-classicLargeSectorsStart)/classicLargeSectorBlocks
}
