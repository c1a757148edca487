package translate

import (
	"strings"
)

// DefaultInstruction is used when the caller gives none.
const DefaultInstruction = "Make a complete, grammatically correct sentence"

// BuildPrompt renders the request sent to the language model.
func BuildPrompt(signs []string, instruction string) string {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		instruction = DefaultInstruction
	}

	var b strings.Builder
	b.WriteString("You are a sign language translation assistant.\n\n")
	b.WriteString("Convert the following sequence of sign language words into a proper English sentence, ")
	b.WriteString("following this instruction: ")
	b.WriteString(instruction)
	b.WriteString("\n\nSign Language Words: ")
	b.WriteString(strings.Join(signs, " "))
	b.WriteString("\n\nJust return the corrected sentence without any explanations or additional text.")
	return b.String()
}
