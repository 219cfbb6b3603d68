package collector

// Distribute spreads a global concurrency budget over a number of items.
// Each item receives the integer quotient; the first remainder items one
// extra. Items left at zero are dropped from the returned slice: the
// distribution sizes nested fan-out, it never drops work items themselves.
//
//	Distribute(10, 3) = [4, 3, 3]
//	Distribute(3, 5)  = [1, 1, 1]
func Distribute(budget, items int) []int {
	if items <= 0 || budget <= 0 {
		return nil
	}

	quotient := budget / items
	remainder := budget % items

	distributed := make([]int, 0, items)
	for i := 0; i < items; i++ {
		n := quotient
		if i < remainder {
			n++
		}
		if n == 0 {
			continue
		}
		distributed = append(distributed, n)
	}
	return distributed
}
