package synth

// chain is a persistent list of chosen instantiations. Extending a chain
// never copies or modifies it, so sibling candidates share their common
// prefix.
type chain struct {
	inst Instantiation
	prev *chain
	n    int
}

func (c *chain) push(inst Instantiation) *chain {
	return &chain{inst: inst, prev: c, n: c.len() + 1}
}

func (c *chain) len() int {
	if c == nil {
		return 0
	}
	return c.n
}

// slice returns the instantiations in push order.
func (c *chain) slice() []Instantiation {
	out := make([]Instantiation, c.len())
	for i, cur := len(out)-1, c; cur != nil; i, cur = i-1, cur.prev {
		out[i] = cur.inst
	}
	return out
}
