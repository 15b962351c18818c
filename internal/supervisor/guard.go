package supervisor

import (
	"errors"
	"runtime/debug"
)

// Catch runs fn and returns a *Fault if it panics. Goroutines started by a
// loop use it so a panic reaches the loop instead of killing the process.
func Catch(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = asFault(name, r)
		}
	}()
	fn()
	return nil
}

// Rethrow panics with err if it carries a *Fault, handing the fault to the
// supervisor that runs the calling loop. Other errors are ignored.
func Rethrow(err error) {
	var f *Fault
	if errors.As(err, &f) {
		panic(f)
	}
}

func asFault(name string, r any) *Fault {
	if f, ok := r.(*Fault); ok {
		return f
	}
	return &Fault{Loop: name, Value: r, Stack: debug.Stack()}
}
