// Package command provides a job that runs an external program.
//
// The command line is split with shell quoting rules but is not run by a
// shell: pipes, globs and variable expansion are not available.
package command
