package indexing

import "fmt"

// InvariantError reports a structural bug inside an index. It is raised with
// panic and is not meant to be recovered by callers.
type InvariantError struct {
	Structure string
	Detail    string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s invariant violated: %s", e.Structure, e.Detail)
}

func invariant(cond bool, structure, format string, args ...any) {
	if !cond {
		panic(&InvariantError{Structure: structure, Detail: fmt.Sprintf(format, args...)})
	}
}
