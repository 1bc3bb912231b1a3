// ABOUTME: Fixes lipgloss to a dark background before bubbletea initializes
// ABOUTME: Blank-import from main, ahead of internal/host, to keep OSC replies off the console's stdin

package termfix

import "github.com/charmbracelet/lipgloss"

func init() {
	// With the background set explicitly, lipgloss never queries the
	// terminal (OSC 10/11), so no reply bytes reach the line reader.
	// Must not import bubbletea, directly or not.
	lipgloss.SetHasDarkBackground(true)
}
