package llm

import (
	"bufio"
	"strings"
)

// ExtractJSON pulls a JSON object out of free-form worker output: a
// markdown-fenced ```json block if present, otherwise the first
// balanced brace-delimited object, with trailing commas and // comments
// stripped.
func ExtractJSON(content string) string {
	raw := extractRawJSON(content, '{', '}')
	if raw == "" {
		return ""
	}
	return cleanJSON(raw)
}

// ExtractJSONArray is ExtractJSON's array counterpart.
func ExtractJSONArray(content string) string {
	raw := extractRawJSON(content, '[', ']')
	if raw == "" {
		return ""
	}
	return cleanJSON(raw)
}

// extractRawJSON locates a JSON value delimited by open/close. It first
// scans for a fenced code block carrying that delimiter; failing that, it
// scans the raw content for the first open rune and walks forward to its
// matching close, honoring string/escape state so braces or brackets
// embedded in string values never throw off the depth count.
func extractRawJSON(content string, open, close byte) string {
	if fenced, ok := scanFencedBlock(content, open, close); ok {
		return fenced
	}
	return scanBalanced(content, open, close)
}

// scanFencedBlock walks content line by line looking for a ``` fence
// (optionally tagged "json"), collects every line up to the closing fence,
// and returns the collected body if its trimmed form starts with open and
// ends with close.
func scanFencedBlock(content string, open, close byte) (string, bool) {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var body []string
	inFence := false
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if !inFence {
			if strings.HasPrefix(trimmed, "```") {
				inFence = true
			}
			continue
		}
		if strings.HasPrefix(trimmed, "```") {
			joined := strings.TrimSpace(strings.Join(body, "\n"))
			if len(joined) > 0 && joined[0] == open && joined[len(joined)-1] == close {
				return joined, true
			}
			return "", false
		}
		body = append(body, line)
	}
	return "", false
}

// scanBalanced finds the first occurrence of open in content and returns
// the substring up to its matching close, tracking nesting depth and
// skipping over string-literal contents (including escaped quotes) so a
// brace or bracket quoted inside a value never closes the scan early.
func scanBalanced(content string, open, close byte) string {
	start := strings.IndexByte(content, open)
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
			// inside a string literal, delimiters don't affect depth
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}

// cleanJSON strips // line comments (outside string literals) and removes
// any trailing comma immediately before a closing brace or bracket, in a
// single forward pass over raw.
func cleanJSON(raw string) string {
	var out strings.Builder
	out.Grow(len(raw))

	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		ch := raw[i]

		if !inString && ch == '/' && i+1 < len(raw) && raw[i+1] == '/' {
			for i < len(raw) && raw[i] != '\n' {
				i++
			}
			if i >= len(raw) {
				break
			}
			ch = raw[i] // the newline itself, fall through and keep it
		}

		switch {
		case escaped:
			escaped = false
		case inString && ch == '\\':
			escaped = true
		case ch == '"':
			inString = !inString
		}

		out.WriteByte(ch)
	}

	return stripTrailingCommas(out.String())
}

// stripTrailingCommas removes a comma that is followed only by whitespace
// and then a closing brace or bracket, e.g. "a,\n}" -> "a\n}".
func stripTrailingCommas(s string) string {
	var out strings.Builder
	out.Grow(len(s))

	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch != ',' {
			out.WriteByte(ch)
			continue
		}
		j := i + 1
		for j < len(s) && isJSONSpace(s[j]) {
			j++
		}
		if j < len(s) && (s[j] == '}' || s[j] == ']') {
			continue // drop the comma, keep the whitespace and closer as-is
		}
		out.WriteByte(ch)
	}
	return out.String()
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
