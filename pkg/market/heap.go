package market

// maxPriceHeap implements container/heap.Interface over bid prices:
// highest price on top. Mirrors the teacher's bid-side price heap.
type maxPriceHeap []int64

func (h maxPriceHeap) Len() int            { return len(h) }
func (h maxPriceHeap) Less(i, j int) bool  { return h[i] > h[j] }
func (h maxPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxPriceHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *maxPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h maxPriceHeap) Peek() (int64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}

// minPriceHeap implements container/heap.Interface over ask prices:
// lowest price on top.
type minPriceHeap []int64

func (h minPriceHeap) Len() int            { return len(h) }
func (h minPriceHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h minPriceHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minPriceHeap) Push(x interface{}) { *h = append(*h, x.(int64)) }
func (h *minPriceHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
func (h minPriceHeap) Peek() (int64, bool) {
	if len(h) == 0 {
		return 0, false
	}
	return h[0], true
}
