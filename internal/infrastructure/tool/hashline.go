package tool

import (
	"fmt"
	"hash/crc32"
	"regexp"
	"strconv"
	"strings"
)

// Hashline addressing: read output tags every line as "line:hash|content",
// and edit anchors replacements to those tags. The hash only matches while
// the line content is unchanged, so a stale anchor fails instead of editing
// the wrong line.

// hashLine digests one line (newline excluded): the first two hex digits of
// crc32(content) & 0xFFFF. Short on purpose; collisions are disambiguated by
// the line number in the anchor.
func hashLine(content string) string {
	h := fmt.Sprintf("%x", crc32.ChecksumIEEE([]byte(content))&0xFFFF)
	if len(h) > 2 {
		h = h[:2]
	}
	return h
}

var anchorPattern = regexp.MustCompile(`^(\d+):([0-9a-f]+)$`)

// parseAnchor splits a "line:hash" reference. ok is false when the reference
// does not match the anchor grammar.
func parseAnchor(ref string) (line int, hash string, ok bool) {
	m := anchorPattern.FindStringSubmatch(ref)
	if m == nil {
		return 0, "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return n, m[2], true
}

// splitKeepEnds splits text after every newline, keeping the newline on each
// line. A trailing fragment without a newline is kept as its own line.
func splitKeepEnds(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			lines = append(lines, text)
			return lines
		}
		lines = append(lines, text[:i+1])
		text = text[i+1:]
		if text == "" {
			return lines
		}
	}
}

// trimEOL strips trailing newline characters only; other whitespace is part
// of the hashed content.
func trimEOL(line string) string {
	return strings.TrimRight(line, "\r\n")
}
