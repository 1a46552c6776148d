package main

import (
	"fmt"
	"io"

	"golang.org/x/term"
)

func isTTY(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}

// printBanner prints the dcq ASCII banner with a cyan-to-magenta gradient
// when writing to a terminal.
func printBanner(w io.Writer, useColor bool) {
	lines := []string{
		` _____                  `,
		`|  __ \                 `,
		`| |  | | ___ __ _       `,
		`| |  | |/ __/ _' |      `,
		`| |__| | (_| (_| |      `,
		`|_____/ \___\__, |      `,
		`               | |      `,
		`               |_|      `,
	}

	if !useColor {
		for _, l := range lines {
			fmt.Fprintln(w, l)
		}
		return
	}

	gradient := []int{36, 36, 34, 34, 35, 35, 35, 35}
	for i, l := range lines {
		color := 36
		if i < len(gradient) {
			color = gradient[i]
		}
		fmt.Fprintf(w, "\033[1;%dm%s\033[0m\n", color, l)
	}
}
