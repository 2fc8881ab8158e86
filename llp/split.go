package llp

// Split cuts data into consecutive pieces of at most limit bytes, preserving order.
// The pieces alias data. A non-positive limit returns data as a single piece.
// LogData payloads are byte-transparent, so any cut point is valid.
func Split(data []byte, limit int) [][]byte {
	if limit <= 0 || len(data) <= limit {
		return [][]byte{data}
	}
	pieces := make([][]byte, 0, (len(data)+limit-1)/limit)
	for len(data) > limit {
		pieces = append(pieces, data[:limit:limit])
		data = data[limit:]
	}
	if len(data) > 0 {
		pieces = append(pieces, data)
	}
	return pieces
}
