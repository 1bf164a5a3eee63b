package store

// Pair is the unordered key of a private conversation. A is always the smaller id.
type Pair struct {
	A string
	B string
}

// NewPair orders x and y.
func NewPair(x, y string) Pair {
	if y < x {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Key is the stable string form of the pair.
func (p Pair) Key() string {
	return p.A + ":" + p.B
}

// Has reports whether id is one of the participants.
func (p Pair) Has(id string) bool {
	return p.A == id || p.B == id
}

// Other returns the participant that is not id.
func (p Pair) Other(id string) string {
	if p.A == id {
		return p.B
	}
	return p.A
}

// Members returns both participants.
func (p Pair) Members() [2]string {
	return [2]string{p.A, p.B}
}
