package report

import (
	"fmt"
	"math"
	"strings"
)

// Braille blocks, 4 sub-blocks high: empty, 1/4, 1/2, 3/4, full
var blocks = []rune{'⠀', '⣀', '⣤', '⣶', '⣿'}

const subBlocksPerLine = 4.0

// Sparkline draws values as a multi-line braille bar chart, one column per
// value, framed by Max/Min labels. Fewer than two values yield "".
func Sparkline(values []float64, height int) string {
	if len(values) < 2 || height < 1 {
		return ""
	}

	minVal, maxVal := values[0], values[0]
	for _, v := range values {
		minVal = math.Min(minVal, v)
		maxVal = math.Max(maxVal, v)
	}

	// Dynamic scaling with buffer
	buffer := 10.0
	minVal = math.Max(0, minVal-buffer)
	maxVal += buffer
	rangeVal := maxVal - minVal

	rows := make([][]rune, height)
	for i := range rows {
		rows[i] = []rune(strings.Repeat(string(blocks[0]), len(values)))
	}

	for x, val := range values {
		total := (val - minVal) / rangeVal * float64(height) * subBlocksPerLine

		// y counts lines from the bottom
		for y := 0; y < height; y++ {
			line := height - 1 - y
			lineStart := float64(y) * subBlocksPerLine
			lineEnd := float64(y+1) * subBlocksPerLine

			switch {
			case total >= lineEnd:
				rows[line][x] = blocks[len(blocks)-1]
			case total > lineStart:
				partial := int(math.Round(total - lineStart))
				partial = max(0, min(partial, len(blocks)-1))
				rows[line][x] = blocks[partial]
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Max: %.0f\n", maxVal)
	for _, row := range rows {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Min: %.0f", minVal)
	return b.String()
}

// Downsample averages values into at most n buckets so long histories fit a
// terminal line.
func Downsample(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	out := make([]float64, n)
	for i := range out {
		lo := i * len(values) / n
		hi := (i + 1) * len(values) / n
		var sum float64
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[i] = sum / float64(hi-lo)
	}
	return out
}
