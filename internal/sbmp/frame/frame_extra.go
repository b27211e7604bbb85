package frame

// RxCapacity returns the fixed receive buffer capacity the codec was
// constructed with.
func (c *Codec) RxCapacity() int { return c.rxCap }
