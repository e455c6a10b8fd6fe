package cmd

import "github.com/charmbracelet/huh"

func Continue(txt string) bool {
	var confirm bool

	huh.NewConfirm().
		Title(txt).
		Affirmative("Yes").
		Negative("No").
		Value(&confirm).
		Run()

	return confirm
}
