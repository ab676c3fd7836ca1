package console

import "strings"

// Command represents a parsed console line.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a console line. Lines starting with ':' or '/' are
// commands; anything else is a message for the selected conversation.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(input)
	if input == "" {
		return Command{}
	}
	if input[0] != ':' && input[0] != '/' {
		return Command{Name: "send", Args: input}
	}
	parts := strings.SplitN(input[1:], " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}
