package tui

import (
	"unicode"
	"unicode/utf8"
)

// maxNameLen is the maximum number of runes allowed in a display name.
const maxNameLen = 40

// editRune applies one keystroke to an inline text field: backspace
// removes the last rune, a single printable rune is appended while the
// field holds fewer than maxNameLen runes, anything else is ignored.
func editRune(text string, key string) string {
	if key == "backspace" {
		_, size := utf8.DecodeLastRuneInString(text)
		return text[:len(text)-size]
	}
	r, size := utf8.DecodeRuneInString(key)
	if size == 0 || size != len(key) || !unicode.IsPrint(r) {
		return text
	}
	if utf8.RuneCountInString(text) >= maxNameLen {
		return text
	}
	return text + key
}

// truncateToHeight limits output to maxLines newline-delimited lines.
// Returns the original string if it fits or maxLines is <= 0.
func truncateToHeight(s string, maxLines int) string {
	if maxLines <= 0 {
		return s
	}
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			n++
			if n >= maxLines {
				return s[:i+1]
			}
		}
	}
	return s
}

// renderNameInput renders the inline rename prompt with a blinking cursor.
func renderNameInput(input string, frame int) string {
	prompt := " " + inputPromptStyle.Render("new name> ")
	cursor := " "
	if (frame/4)%2 == 0 {
		cursor = accentStyle.Render("█")
	}
	if input == "" {
		return prompt + cursor + inputPlaceholderStyle.Render(" type a name, enter to save, esc to cancel")
	}
	return prompt + selectedStyle.Render(input) + cursor
}
