// SPDX-License-Identifier: MIT
package main

import (
	"os"

	"pcmframe/cmd"
	"pcmframe/internal/log"
	"pcmframe/pkg/build"
)

// main is the entry point of the pcmframe command. Commands are cold-path
// setup around one of the real-time paths: a capture callback feeding a
// pipeline, a WAV decoder, or a UDP receiver. Each command shuts its path
// down on SIGINT or SIGTERM.
func main() {
	// Development builds run without linked build flags.
	if err := build.Initialize(); err != nil {
		log.Debugf("build: %v", err)
	}

	if err := cmd.Execute(os.Args[1:]); err != nil {
		log.Fatalf("%v", err)
	}
}
