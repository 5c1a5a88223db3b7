// Package linux provides the PCIe character device transport for Linux.
//
// The board's PCIe driver exports a character device (by default
// /dev/nysa_pcie0). [CharDevice] wraps it with the two access modes the
// driver implements, selected by seeking: command mode at the end of the
// file and data mode at its start. It also implements [hal.Transport] so
// the same board can be driven by the host package's engine.
//
// Readiness is waited for with epoll through golang.org/x/sys/unix. An
// eventfd registered with the same epoll instance lets a blocked wait end
// on context cancellation or close. Drivers that do not implement poll are
// detected at open time and read without a deadline.
//
// # Requirements
//
// The user running the application must have read/write access to the
// device node, typically through a udev rule.
package linux
