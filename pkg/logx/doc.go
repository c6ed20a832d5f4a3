// Package logx is fifosched's logging layer on top of zerolog.
//
// Console lines are human readable with a short file:line caller, file
// lines are JSON. Components tag their logger with Component so operators
// can raise one subsystem to debug without flooding the rest.
package logx
