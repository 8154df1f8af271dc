package mcpserver

// NoteFormatContract describes the header conventions recognized by the
// parser. LLM consumers should follow it when ingesting notes.
const NoteFormatContract = `# Ansuz Note Format

Ansuz accepts any plain text; the following header conventions add
structured metadata. Parsing never fails: malformed headers are treated
as plain body text.

## Convention 1: YAML frontmatter

` + "```" + `markdown
---
title: Human-readable title     # optional; defaults to the first line
tags:                           # optional; YAML list or comma string
  - tag-one
  - tag-two
status: active                  # optional; draft | active | archived
---

Body text in Markdown. Use [[wikilinks]] to reference other notes by
their source identity; [[target|alias]] works too.
` + "```" + `

Unknown frontmatter keys are preserved verbatim on the note record and
returned with it; they are never dropped.

## Convention 2: heading plus list

` + "```" + `markdown
# Title line
- Tags: ai, notes
- Status: active

Body text starts after the first blank line.
` + "```" + `

## No header

Without a header the whole text is the body, the title defaults to the
first non-empty line, tags are empty, and the status is draft.

## Rules

1. The source identity you pass to ingest_note is the note's stable
   key: re-ingesting the same source updates the same note.
2. Inline #tags in the body are merged with header tags.
3. Wikilink targets are source identities; links to notes that do not
   exist yet are kept and resolve once the target is ingested.
4. Unknown status values degrade to draft.
`
