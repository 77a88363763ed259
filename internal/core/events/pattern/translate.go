package pattern

import (
	"strings"
	"unicode/utf8"
)

// interval is an inclusive rune range.
type interval struct{ lo, hi rune }

// translate rewrites a shell glob (only '*', '?', '[...]' and '[!...]' are
// special) into gobwas/glob syntax. Everything else, including '{', ',' and
// '\', is literal. A '[' without a closing ']' is literal too.
func translate(p string) string {
	var b strings.Builder
	runes := []rune(p)
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; r {
		case '*':
			b.WriteByte('*')
		case '?':
			b.WriteByte('?')
		case '[':
			set, next, ok := parseClass(runes, i+1)
			if !ok {
				writeLiteral(&b, '[')
				continue
			}
			writeSet(&b, set)
			i = next
		default:
			writeLiteral(&b, r)
		}
	}
	return b.String()
}

// parseClass reads a character class whose body starts at runes[start]. It
// returns the matched rune set and the index of the closing ']'.
func parseClass(runes []rune, start int) ([]interval, int, bool) {
	j := start
	negate := j < len(runes) && runes[j] == '!'
	if negate {
		j++
	}
	bodyStart := j
	// A ']' right after '[' or '[!' is a member, not the terminator.
	if j < len(runes) && runes[j] == ']' {
		j++
	}
	for j < len(runes) && runes[j] != ']' {
		j++
	}
	if j >= len(runes) {
		return nil, 0, false
	}

	body := runes[bodyStart:j]
	var set []interval
	for k := 0; k < len(body); k++ {
		lo, hi := body[k], body[k]
		if k+2 < len(body) && body[k+1] == '-' {
			hi = body[k+2]
			k += 2
		}
		if lo <= hi {
			set = append(set, interval{lo, hi})
		}
	}
	set = normalize(set)
	if negate {
		set = complement(set)
	}
	return set, j, true
}

// normalize sorts and merges overlapping or adjacent intervals.
func normalize(set []interval) []interval {
	for i := 1; i < len(set); i++ {
		for k := i; k > 0 && set[k].lo < set[k-1].lo; k-- {
			set[k], set[k-1] = set[k-1], set[k]
		}
	}
	var out []interval
	for _, iv := range set {
		if n := len(out); n > 0 && iv.lo <= out[n-1].hi+1 {
			out[n-1].hi = max(out[n-1].hi, iv.hi)
			continue
		}
		out = append(out, iv)
	}
	return out
}

// complement inverts set over the runes the glob lexer accepts; it reads NUL
// as end of input.
func complement(set []interval) []interval {
	var out []interval
	next := rune(1)
	for _, iv := range set {
		if iv.lo > next {
			out = append(out, interval{next, iv.lo - 1})
		}
		next = iv.hi + 1
	}
	if next <= utf8.MaxRune {
		out = append(out, interval{next, utf8.MaxRune})
	}
	return out
}

// writeSet emits a glob matching exactly one rune of set.
func writeSet(b *strings.Builder, set []interval) {
	var alts []string
	for _, iv := range set {
		alts = append(alts, rangeTerms(iv)...)
	}
	switch len(alts) {
	case 0:
		// The empty class matches nothing.
		b.WriteString("[!\x01-" + string(utf8.MaxRune) + "]")
	case 1:
		b.WriteString(alts[0])
	default:
		b.WriteString("{" + strings.Join(alts, ",") + "}")
	}
}

// rangeTerms renders one interval as glob terms. Range bounds are read raw by
// the glob lexer, except a leading '!' which it takes as negation. Surrogates
// cannot appear in a Go string, so bounds inside that block are moved out.
func rangeTerms(iv interval) []string {
	if iv.lo >= 0xD800 && iv.lo <= 0xDFFF {
		iv.lo = 0xE000
	}
	if iv.hi >= 0xD800 && iv.hi <= 0xDFFF {
		iv.hi = 0xD7FF
	}
	if iv.lo > iv.hi {
		return nil
	}
	var b strings.Builder
	if iv.lo == iv.hi {
		writeLiteral(&b, iv.lo)
		return []string{b.String()}
	}
	if iv.lo == '!' {
		writeLiteral(&b, '!')
		return append([]string{b.String()}, rangeTerms(interval{'!' + 1, iv.hi})...)
	}
	return []string{"[" + string(iv.lo) + "-" + string(iv.hi) + "]"}
}

func writeLiteral(b *strings.Builder, r rune) {
	if strings.ContainsRune(`*?[]{}\,!-`, r) {
		b.WriteByte('\\')
	}
	b.WriteRune(r)
}
