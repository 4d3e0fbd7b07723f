package logging

import "github.com/fatih/color"

// fatih/color drops the escape sequences on its own when the output is not a
// terminal or NO_COLOR is set.
var (
	headerColor = color.New(color.FgWhite)
	traceColor  = color.New(color.FgYellow)

	levelColors = map[Level]*color.Color{
		Error: color.New(color.FgRed, color.Bold),
		Warn:  color.New(color.FgRed),
		Info:  color.New(color.Reset),
		Debug: color.New(color.FgGreen),
	}
)

// DisableColor forces plain output, e.g. when logging to a file.
func DisableColor() {
	color.NoColor = true
}
