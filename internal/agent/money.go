package agent

import (
	"math"
	"strconv"
	"strings"
)

// FormatINR renders an amount in rupees with Indian digit grouping, e.g.
// 1234567.5 becomes "₹12,34,568". Amounts under 100 keep two decimals.
func FormatINR(v float64) string {
	neg := v < 0
	v = math.Abs(v)

	var s string
	if v < 100 && v != math.Trunc(v) {
		s = strconv.FormatFloat(v, 'f', 2, 64)
	} else {
		s = groupIndian(strconv.FormatFloat(math.Round(v), 'f', 0, 64))
	}
	if neg {
		return "-₹" + s
	}
	return "₹" + s
}

// groupIndian inserts commas after the last three digits and then every two.
func groupIndian(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	head, tail := digits[:len(digits)-3], digits[len(digits)-3:]
	var parts []string
	for len(head) > 2 {
		parts = append([]string{head[len(head)-2:]}, parts...)
		head = head[:len(head)-2]
	}
	if head != "" {
		parts = append([]string{head}, parts...)
	}
	return strings.Join(parts, ",") + "," + tail
}
