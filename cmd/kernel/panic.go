package main

import (
	"fmt"
	"runtime"
)

// dumpCallers logs the call stack starting at the given skip depth,
// adapted from the teacher's caller.Callerdump: same frame-by-frame
// runtime.Caller walk, routed through the kernel logger instead of
// stdout so it interleaves with the rest of boot's structured log.
func dumpCallers(skip int) {
	for i := skip; ; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			return
		}
		log.WithField("frame", i-skip).Errorf("%s:%d", file, line)
	}
}
