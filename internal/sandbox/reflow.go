package sandbox

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// wrapWidth is the column count long path tokens are broken at.
const wrapWidth = 40

// ReflowPaths inserts breakable separators into long path tokens so error
// text wraps on narrow displays. Nothing is truncated or dropped.
func ReflowPaths(msg string) string {
	if len(msg) <= wrapWidth || !strings.Contains(msg, "/") {
		return msg
	}

	fields := strings.Split(msg, " ")
	for i, f := range fields {
		if len(f) > wrapWidth && strings.Count(f, "/") > 1 {
			fields[i] = breakPath(f)
		}
	}
	return strings.Join(fields, " ")
}

// breakPath splits a single path-like token after separators once the
// current line exceeds wrapWidth.
func breakPath(token string) string {
	var b strings.Builder
	run := 0
	for _, r := range token {
		b.WriteRune(r)
		run++
		if r == '/' && run >= wrapWidth {
			b.WriteByte('\n')
			run = 0
		}
	}
	return b.String()
}

// FormatScriptError renders a task failure for the log and notification
// channel: the message plus, when available, the Lua call stack, both with
// paths re-flowed.
func FormatScriptError(err error) string {
	if err == nil {
		return ""
	}
	if apiErr, ok := err.(*lua.ApiError); ok {
		msg := ReflowPaths(apiErr.Object.String())
		if apiErr.StackTrace != "" {
			msg += "\n" + ReflowPaths(apiErr.StackTrace)
		}
		return msg
	}
	return ReflowPaths(err.Error())
}
