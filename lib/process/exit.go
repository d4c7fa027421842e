// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Fatal reports err and exits with [ExitCode]. Errors that carry their
// own exit code are not printed: the command already wrote its output.
func Fatal(err error) {
	os.Exit(report(os.Stderr, err))
}

// ExitCode is the status a binary exits with for err: 0 for nil, the
// code of an error implementing ExitCode() int, and 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder interface{ ExitCode() int }
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return 1
}

func report(w io.Writer, err error) int {
	code := ExitCode(err)
	var coder interface{ ExitCode() int }
	if err != nil && !errors.As(err, &coder) {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return code
}
