// Command artemis drives a board over its USB command interface.
//
// Boards are found on the FTDI bus by vendor and product ID, or in a
// simulator bus directory when --bus is given:
//
//	artemis scan
//	artemis --serial FT1234 read 0x0 16
//	artemis --bus /tmp/artemis-bus write 0x100000010 deadbeef
//	artemis wait 3 --timeout 5s
//
// Flag defaults are read from the environment (ARTEMIS_VID, ARTEMIS_PID,
// ARTEMIS_SERIAL, ARTEMIS_BUS), which may be set in a .env file in the
// working directory.
package main

import (
	"os"

	"github.com/ardnew/artemis/internal/cli"
	"github.com/ardnew/artemis/pkg"
)

func main() {
	if err := cli.LoadEnv(); err != nil {
		pkg.LogWarn(pkg.ComponentCLI, "env", "error", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
