// Package gnu orders version strings the way dpkg and GNU sort -V do.
package gnu

// Compare compares two version strings and returns -1, 0 or 1.
//
// Versions are split into alternating non-digit and digit runs. Non-digit
// runs are compared character by character where '~' sorts before
// everything (even the end of the string) and letters sort before other
// punctuation. Digit runs are compared by numeric value, so leading zeros
// are ignored and "1.10" is newer than "1.9".
func Compare(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			ca, cb := weight(a, i), weight(b, j)
			if ca != cb {
				return sign(ca - cb)
			}
			i++
			j++
		}

		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}

		diff := 0
		for i < len(a) && j < len(b) && isDigit(a[i]) && isDigit(b[j]) {
			if diff == 0 {
				diff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}
		switch {
		case i < len(a) && isDigit(a[i]):
			return 1
		case j < len(b) && isDigit(b[j]):
			return -1
		case diff != 0:
			return sign(diff)
		}
	}
	return 0
}

// Less reports whether version a sorts before version b.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}

// weight returns the sort weight of s[i]; positions past the end weigh 0.
func weight(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	c := s[i]
	switch {
	case isDigit(c):
		return 0
	case isAlpha(c):
		return int(c)
	case c == '~':
		return -1
	default:
		return int(c) + 256
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
