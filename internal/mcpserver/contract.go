package mcpserver

// NoteFormatContract describes how synced meeting documents are identified,
// so that LLM consumers create notes the duplicate guard can recognise.
const NoteFormatContract = `# Granola Sync Document Contract

Every document produced by the Granola sync carries a sync key in its header.
Two documents of the same class with the same key are duplicates; creating the
second one returns the first instead.

## Structure

` + "```" + `markdown
---
granola_id: 0a1b2c3d-4e5f-6789-abcd-ef0123456789   # REQUIRED for synced documents
title: Weekly standup                             # OPTIONAL
type: note                                        # OPTIONAL - note or transcript
updated_at: 2025-01-20T10:00:00Z                  # OPTIONAL
---

Body text in standard Markdown.
` + "```" + `

## Rules

1. **The header comes first.** The ` + "`" + `---` + "`" + ` fences must open the file.
2. **One key per meeting.** ` + "`" + `granola_id` + "`" + ` is copied verbatim from Granola; do
   not invent or reformat it.
3. **Notes and transcripts may share a key.** A transcript is recognised by its
   folder when the sync stores transcripts in a custom location, otherwise by a
   file name containing ` + "`" + `transcript` + "`" + ` (e.g. ` + "`" + `Standup - transcript.md` + "`" + `).
4. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes. Names starting with a dot
   are rejected.
5. **Check before creating.** Use ` + "`" + `find_by_sync_key` + "`" + ` to see whether the meeting
   is already in the vault. A create that hits an existing document reports
   ` + "`" + `duplicate prevented` + "`" + ` with the path of the document kept.

## Example

` + "```" + `markdown
---
granola_id: 0a1b2c3d-4e5f-6789-abcd-ef0123456789
title: Weekly standup 2025-01-20
---

# Weekly standup 2025-01-20

Attendees: Alice, Bob.
` + "```" + `
`
