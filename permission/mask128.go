package permission

// Mask128 is a 128-bit permission bitmask. Word 0 holds bits 0-63.
type Mask128 [2]uint64

func (m *Mask128) Has(bit int) bool { return hasWord(m[:], bit) }

func (m *Mask128) Set(bit int) { setWord(m[:], bit) }

func (m *Mask128) Clear(bit int) { clearWord(m[:], bit) }

func (m *Mask128) Width() int { return 128 }
