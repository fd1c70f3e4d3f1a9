package permission

import "fmt"

// Mask is a fixed-width permission bitset. Out-of-range bits are never set.
type Mask interface {
	Has(bit int) bool
	Set(bit int)
	Clear(bit int)
	Width() int
}

// NewMask returns an empty mask of the given width (64, 128, 256 or 512).
func NewMask(width int) (Mask, error) {
	switch width {
	case 64:
		m := Mask64(0)
		return &m, nil
	case 128:
		return &Mask128{}, nil
	case 256:
		return &Mask256{}, nil
	case 512:
		return &Mask512{}, nil
	default:
		return nil, fmt.Errorf("invalid mask width %d", width)
	}
}

// widthFor returns the smallest supported width that holds n bits.
func widthFor(n int) (int, error) {
	for _, w := range []int{64, 128, 256, 512} {
		if n <= w {
			return w, nil
		}
	}
	return 0, fmt.Errorf("permission limit exceeded: %d > 512", n)
}

func hasWord(words []uint64, bit int) bool {
	if bit < 0 || bit >= len(words)*64 {
		return false
	}
	return words[bit/64]&(1<<(bit%64)) != 0
}

func setWord(words []uint64, bit int) {
	if bit < 0 || bit >= len(words)*64 {
		return
	}
	words[bit/64] |= 1 << (bit % 64)
}

func clearWord(words []uint64, bit int) {
	if bit < 0 || bit >= len(words)*64 {
		return
	}
	words[bit/64] &^= 1 << (bit % 64)
}
