package ollama

import "strings"

const notesPromptTemplate = `You are an expert note-taker.
Turn the lecture transcript below into clear, exam-ready study notes.

Requirements:
- Write Markdown with headings and bullet points.
- Open with a short title and a two to three sentence TL;DR.
- Include these sections where the transcript supports them:
  ## Key Concepts
  ## Important Definitions
  ## Step-by-Step Explanations
  ## Equations / Formulas (LaTeX inside ` + "```math```" + ` blocks)
  ## Code Examples / Snippets (fenced code blocks)
  ## Examples (with timestamps if mentioned)
  ## Potential Exam Questions (only ones the lecturer pointed out)

Guidelines:
- Be concise but complete; prefer bullets over paragraphs.
- Bold key terms.
- Preserve code and formulas exactly.
- Do not invent anything that is not in the transcript, and do not skip parts of it.

Transcript:
{transcript}
`

// NotesPrompt renders the note-taking prompt for a transcript
func NotesPrompt(transcript string) string {
	return strings.Replace(notesPromptTemplate, "{transcript}", transcript, 1)
}
