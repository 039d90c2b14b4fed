package tools

import "fmt"

// UnknownToolError reports a call to a tool that is not declared.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// ArgumentError reports arguments that do not fit the tool's parameters.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("invalid arguments: %v", e.Err)
	}
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }
