package errors

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
)

// StackFrame is a single resolved frame of a captured stack.
type StackFrame struct {
	File           string
	LineNumber     int
	Name           string
	Package        string
	ProgramCounter uintptr
}

// NewStackFrame resolves a program counter into a StackFrame.
func NewStackFrame(pc uintptr) StackFrame {
	frame := StackFrame{ProgramCounter: pc}
	fn := runtime.FuncForPC(pc - 1)
	if fn == nil {
		return frame
	}
	frame.Package, frame.Name = packageAndName(fn)
	frame.File, frame.LineNumber = fn.FileLine(pc - 1)
	return frame
}

// String formats the frame like runtime/debug.Stack.
func (f StackFrame) String() string {
	return fmt.Sprintf("%s:%d (0x%x)\n\t%s.%s\n", f.File, f.LineNumber, f.ProgramCounter, f.Package, f.Name)
}

// Short formats the frame as "file.go:123 pkg.Func".
func (f StackFrame) Short() string {
	file := f.File
	if i := strings.LastIndex(file, string(os.PathSeparator)); i >= 0 {
		file = file[i+1:]
	}
	return fmt.Sprintf("%s:%d %s.%s", file, f.LineNumber, f.Package, f.Name)
}

// StackFrames returns the resolved frames for the error.
func (err *Error) StackFrames() []StackFrame {
	if err.frames == nil {
		err.frames = make([]StackFrame, len(err.stack))
		for i, pc := range err.stack {
			err.frames[i] = NewStackFrame(pc)
		}
	}
	return err.frames
}

// Stack returns the call stack formatted like runtime/debug.Stack.
func (err *Error) Stack() []byte {
	buf := bytes.Buffer{}
	for _, frame := range err.StackFrames() {
		buf.WriteString(frame.String())
	}
	return buf.Bytes()
}

// ErrorStack returns the type, message, and stack.
func (err *Error) ErrorStack() string {
	return err.TypeName() + " " + err.Error() + "\n" + string(err.Stack())
}

// MinimalStack returns up to length short frames, starting skip frames in.
// Suitable for attaching to structured log lines.
func (err *Error) MinimalStack(skip, length int) []string {
	frames := err.StackFrames()
	if skip >= len(frames) {
		return nil
	}
	frames = frames[skip:]
	if len(frames) > length {
		frames = frames[:length]
	}
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Short()
	}
	return out
}

func packageAndName(fn *runtime.Func) (string, string) {
	name := fn.Name()
	pkg := ""

	// Strip the path so "github.com/x/y/pkg.(*T).M" becomes "pkg" and "(*T).M".
	if lastSlash := strings.LastIndex(name, "/"); lastSlash >= 0 {
		pkg += name[:lastSlash] + "/"
		name = name[lastSlash+1:]
	}
	if period := strings.Index(name, "."); period >= 0 {
		pkg += name[:period]
		name = name[period+1:]
	}
	return pkg, name
}

// MinimalStack returns the short stack of err if it carries one.
func MinimalStack(err error, skip, length int) []string {
	var e *Error
	if As(err, &e) {
		return e.MinimalStack(skip, length)
	}
	return nil
}
