package index

import (
	"fmt"
	"math"
)

// sizeUnits are the binary prefixes tried in order before falling back to Yi.
var sizeUnits = []string{"Ki", "Mi", "Gi", "Ti", "Pi", "Ei", "Zi"}

// FormatSize formats a byte count with 1024-based units, e.g. "1.0 KiB".
// Values below 1024 print as an integer count of bytes.
func FormatSize(n int64) string {
	if n > -1024 && n < 1024 {
		return fmt.Sprintf("%3d B", n)
	}

	num := float64(n) / 1024

	for _, unit := range sizeUnits {
		if math.Abs(num) < 1024 {
			return fmt.Sprintf("%3.1f %sB", num, unit)
		}

		num /= 1024
	}

	return fmt.Sprintf("%.1f YiB", num)
}
