package util

import "fmt"

var byteUnits = []string{"KB", "MB", "GB", "TB"}

// Human formats a byte count with binary units, e.g. "1.50 MB".
func Human(n int64) string {
	if n < 1024 && n > -1024 {
		return fmt.Sprintf("%d B", n)
	}

	v := float64(n) / 1024
	unit := 0
	for (v >= 1024 || v <= -1024) && unit < len(byteUnits)-1 {
		v /= 1024
		unit++
	}

	return fmt.Sprintf("%.2f %s", v, byteUnits[unit])
}
