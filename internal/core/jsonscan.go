package core

// Generative responses arrive wrapped in prose and markdown fences more
// often than not. These scanners locate the first balanced JSON value in a
// raw response, counting braces with string and escape awareness so a brace
// inside a string literal is never miscounted.

// FirstJSONObject returns the first balanced {...} found anywhere in s.
func FirstJSONObject(s string) (string, bool) {
	return firstBalanced(s, '{', '}')
}

// FirstJSONArray returns the first balanced [...] found anywhere in s.
func FirstJSONArray(s string) (string, bool) {
	return firstBalanced(s, '[', ']')
}

func firstBalanced(s string, open, close byte) (string, bool) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if start == -1 {
			if ch == open {
				start = i
				depth = 1
			}
			continue
		}

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
