package permission

// Mask512 is a 512-bit permission bitmask, the widest supported.
type Mask512 [8]uint64

func (m *Mask512) Has(bit int) bool { return hasWord(m[:], bit) }

func (m *Mask512) Set(bit int) { setWord(m[:], bit) }

func (m *Mask512) Clear(bit int) { clearWord(m[:], bit) }

func (m *Mask512) Width() int { return 512 }
