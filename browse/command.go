package browse

import "strings"

// LineEnd terminates every reply line. It is "\n\r", not "\r\n", and existing clients depend on it.
const LineEnd = "\n\r"

// Command names understood by the dispatcher
const (
	LS    = "ls"    // list the current directory
	CAT   = "cat"   // print a file
	CD    = "cd"    // change directory
	CDUP  = "cd.."  // legacy spelling of "cd .."
	MKDIR = "mkdir" // create a directory
	HELP  = "help"  // print the help text
	EXIT  = "exit"  // close the connection
)

// parentDir is the cd argument that moves to the parent directory
const parentDir = ".."

// Command is one parsed command line
type Command struct {
	Name string // first token
	Arg  string // second token, empty when absent
	Line string // the whole trimmed line as received
}

// Tokens splits line on spaces and drops the empty tokens produced by repeated separators.
// Only ' ' separates tokens, tabs and newlines stay inside a token.
func Tokens(line string) []string {
	parts := strings.Split(line, " ")
	tokens := parts[:0]
	for _, part := range parts {
		if part != "" {
			tokens = append(tokens, part)
		}
	}
	return tokens
}

// ParseCommand parses a trimmed line, tokens past the first argument are ignored
func ParseCommand(line string) Command {
	cmd := Command{Line: line}
	tokens := Tokens(line)
	if len(tokens) > 0 {
		cmd.Name = tokens[0]
	}
	if len(tokens) > 1 {
		cmd.Arg = tokens[1]
	}
	return cmd
}
