package transfer

// Range is a contiguous byte span of a file.
type Range struct {
	Offset int64
	Length int64
}

// End returns the first offset past r.
func (r Range) End() int64 {
	return r.Offset + r.Length
}

// Partition splits [0, total) into threads contiguous ranges of equal size,
// the last one absorbing the remainder. It returns exactly threads ranges so
// every data socket the server expects gets one, even if it is empty.
func Partition(total int64, threads int) []Range {
	if threads <= 0 {
		return nil
	}
	if total < 0 {
		total = 0
	}
	size := total / int64(threads)
	out := make([]Range, threads)
	var offset int64
	for i := range out {
		length := size
		if i == threads-1 {
			length = total - offset
		}
		out[i] = Range{Offset: offset, Length: length}
		offset += length
	}
	return out
}
