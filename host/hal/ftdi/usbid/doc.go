// Package usbid names USB boards from the system's usb.ids database.
//
// The database is searched for in [DefaultPaths]. Boards that are missing
// from it, such as custom FTDI product IDs, fall back to the names
// registered with [Names.Set]:
//
//	names := usbid.Load()
//	names.Set(0x0403, 0x8530, "Artemis FPGA board")
//	fmt.Println(names.Describe(0x0403, 0x8530))
package usbid
