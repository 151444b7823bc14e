// Package debug provides internal-invariant assertions. They are
// compiled into every build; no build tag switches them off.
/*
 * Copyright (c) 2024, Syndicate Storage Project. All rights reserved.
 */
package debug

import "fmt"

// Assert panics if cond is false. It is a deliberate panic, not a
// returned error: every call site is an invariant spec.md requires the
// engine to maintain internally (e.g. I1-I5, lock ordering), not a
// condition a caller can trigger.
func Assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}
