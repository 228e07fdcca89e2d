//go:build !rp2040

package main

// Host builds have no second UART to mirror the console to.
func initLogMirror() func(string) { return nil }
