// Command shelfsort-admin is the operator CLI: migrations, manual enqueues, schedules,
// queue inspection and offline push-down planning.
package main

import (
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}
