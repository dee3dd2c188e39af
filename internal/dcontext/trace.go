package dcontext

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

// WithTrace allocates a traced timing span in a new context. This allows a
// caller to track the time between calling WithTrace and the returned done
// function. The returned done function emits a debug log line with the
// formatted operation name and the elapsed time.
//
// The format used is the same as fmt.Sprintf; args are resolved when the
// span is created so they reflect the call site.
func WithTrace(ctx context.Context, format string, args ...any) (context.Context, func(...any)) {
	if ctx == nil {
		ctx = Background()
	}

	started := time.Now()
	pc, file, line, _ := runtime.Caller(1)
	f := runtime.FuncForPC(pc)
	operation := fmt.Sprintf(format, args...)

	ctx = WithLogger(ctx, GetLoggerWithFields(ctx, map[any]any{
		"trace.func": f.Name(),
		"trace.line": line,
		"trace.file": file,
	}))

	return ctx, func(...any) {
		GetLoggerWithFields(ctx, map[any]any{
			"trace.duration": time.Since(started),
		}).Debug(operation)
	}
}
