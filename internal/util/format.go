package util

import (
	"fmt"
	"strconv"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatSize renders a byte count with binary units and at most one
// decimal, e.g. "1.5 KB".
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	value := float64(size)
	exp := 0
	for value >= unit && exp < len(sizeUnits)-1 {
		value /= unit
		exp++
	}
	return strconv.FormatFloat(roundTenth(value), 'f', -1, 64) + " " + sizeUnits[exp]
}

func roundTenth(v float64) float64 {
	return float64(int64(v*10+0.5)) / 10
}
