// Command spin burns CPU in a fixed call chain until killed.
package main

import (
	"fmt"
	"os"
	"runtime"
)

var sink uint64

func init() {
	// Keep the main goroutine on the main thread so that walking the
	// process main thread finds the chain below.
	runtime.LockOSThread()
}

//go:noinline
func spinA() { spinB() }

//go:noinline
func spinB() { spinC() }

//go:noinline
func spinC() {
	for {
		sink++
	}
}

func main() {
	fmt.Fprintln(os.Stdout, os.Getpid())
	spinA()
}
