package parser

import "strings"

// Frontmatter keys understood by the companion.
const (
	KeySyncKey   = "granola_id"
	KeyUpdatedAt = "updated_at"
	KeyType      = "type"
)

const fmDelim = "---"

// Frontmatter holds flat key: value pairs from a document header.
type Frontmatter map[string]string

// SyncKey returns the value of field (KeySyncKey when empty), or "" if absent.
func (fm Frontmatter) SyncKey(field string) string {
	if field == "" {
		field = KeySyncKey
	}
	return fm[field]
}

// UpdatedAt returns the updated_at value, or "" if absent.
func (fm Frontmatter) UpdatedAt() string {
	return fm[KeyUpdatedAt]
}

// Type returns the declared document type ("note" or "transcript"), or "".
func (fm Frontmatter) Type() string {
	return fm[KeyType]
}

// ExtractFrontmatter splits a leading ----delimited block of flat key: value
// lines from content. Lines without a colon (or starting with one) are
// skipped. Without a well-formed block the frontmatter is empty and body is
// the unchanged content.
func ExtractFrontmatter(content string) (Frontmatter, string) {
	fm := Frontmatter{}

	normalized := strings.ReplaceAll(content, "\r\n", "\n")
	if !strings.HasPrefix(normalized, fmDelim+"\n") {
		return fm, content
	}
	rest := normalized[len(fmDelim)+1:]

	var block, body string
	switch idx := strings.Index(rest, "\n"+fmDelim+"\n"); {
	case idx >= 0:
		block = rest[:idx]
		body = rest[idx+len(fmDelim)+2:]
	case strings.HasSuffix(rest, "\n"+fmDelim):
		block = strings.TrimSuffix(rest, "\n"+fmDelim)
	default:
		return fm, content
	}

	return parsePairs(block), body
}

// parsePairs reads flat key: value lines; the value is everything after the
// first colon.
func parsePairs(block string) Frontmatter {
	fm := Frontmatter{}
	for _, line := range strings.Split(strings.ReplaceAll(block, "\r\n", "\n"), "\n") {
		colon := strings.Index(line, ":")
		if colon <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:colon])
		if key == "" {
			continue
		}
		fm[key] = unquote(strings.TrimSpace(line[colon+1:]))
	}
	return fm
}

// unquote strips one leading and one trailing quote character independently.
func unquote(v string) string {
	if strings.HasPrefix(v, `"`) || strings.HasPrefix(v, "'") {
		v = v[1:]
	}
	if strings.HasSuffix(v, `"`) || strings.HasSuffix(v, "'") {
		v = v[:len(v)-1]
	}
	return v
}
