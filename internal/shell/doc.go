// Package shell is the interactive command loop that drives a client session:
// login, the four interaction commands, stop, logout and exit.
package shell
