package tui

import (
	"fmt"

	"github.com/muesli/termenv"
)

// PrintBanner outputs the startup banner.
func PrintBanner(version string) {
	p := termenv.ColorProfile()
	s1 := termenv.String("        _                 _           _   ").Foreground(p.Color("#38bdf8"))
	s2 := termenv.String("  _ __ (_)_ __   ___  ___| |__   __ _| |_ ").Foreground(p.Color("#22d3ee"))
	s3 := termenv.String(" | '_ \\| | '_ \\ / _ \\/ __| '_ \\ / _` | __|").Foreground(p.Color("#2dd4bf"))
	s4 := termenv.String(" | |_) | | |_) |  __/ (__| | | | (_| | |_ ").Foreground(p.Color("#34d399"))
	s5 := termenv.String(" | .__/|_| .__/ \\___|\\___|_| |_|\\__,_|\\__|").Foreground(p.Color("#4ade80"))
	s6 := termenv.String(" |_|     |_|").Foreground(p.Color("#a3e635"))

	fmt.Println()
	fmt.Println(s1)
	fmt.Println(s2)
	fmt.Println(s3)
	fmt.Println(s4)
	fmt.Println(s5)
	fmt.Printf("%s  v%s\n", s6, version)
	fmt.Println()
}
