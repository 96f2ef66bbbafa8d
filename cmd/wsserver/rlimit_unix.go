//go:build unix

package main

import (
	"log"

	"golang.org/x/sys/unix"
)

// raiseFileLimit lifts the soft open-file limit to the hard limit so that the
// process can hold one descriptor per WebSocket connection.
func raiseFileLimit() {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		log.Printf("rlimit: getrlimit failed: %v", err)
		return
	}
	if lim.Cur >= lim.Max {
		return
	}
	lim.Cur = lim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		log.Printf("rlimit: setrlimit failed: %v", err)
		return
	}
	log.Printf("rlimit: open file limit raised to %d", lim.Cur)
}
