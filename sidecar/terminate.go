package sidecar

// Terminator kills a process together with the children it forked.
type Terminator interface {
	// TerminateTree asks the process tree rooted at pid to exit.
	// An error means the attempt itself could not be made, and the caller should fall back
	// to terminating just the top-level process.
	TerminateTree(pid int) error
}

// TerminatorFunc adapts a function to a Terminator.
type TerminatorFunc func(pid int) error

func (f TerminatorFunc) TerminateTree(pid int) error { return f(pid) }
