//go:build rp2040

package main

import "github.com/jangala-dev/tinygo-uartx/uartx"

// initLogMirror copies every console line to UART0 so a probe on the
// board's debug header sees the same stream as the USB console.
func initLogMirror() func(string) {
	u := uartx.UART0
	_ = u.Configure(uartx.UARTConfig{BaudRate: 115200})
	return func(s string) {
		_, _ = u.Write([]byte(s))
		_, _ = u.Write([]byte("\r\n"))
	}
}
