package permission

// Mask256 is a 256-bit permission bitmask.
type Mask256 [4]uint64

func (m *Mask256) Has(bit int) bool { return hasWord(m[:], bit) }

func (m *Mask256) Set(bit int) { setWord(m[:], bit) }

func (m *Mask256) Clear(bit int) { clearWord(m[:], bit) }

func (m *Mask256) Width() int { return 256 }
