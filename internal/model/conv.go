package model

import "strconv"

// FormatID returns prefix followed by n in decimal. Order, stop order and
// trade ids are minted on every fill, so this skips fmt.
func FormatID(prefix string, n int64) string {
	buf := make([]byte, 0, len(prefix)+20)
	buf = append(buf, prefix...)
	return string(strconv.AppendInt(buf, n, 10))
}
