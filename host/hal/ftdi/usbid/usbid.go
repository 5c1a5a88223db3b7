package usbid

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists where usb.ids is usually installed.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Names maps vendor and product IDs to names. It is safe for concurrent use.
type Names struct {
	mutex    sync.RWMutex
	vendors  map[uint16]string
	products map[uint32]string
	source   string
}

// New returns an empty table.
func New() *Names {
	return &Names{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
}

// Load returns a table read from the first database found in paths, or in
// [DefaultPaths] when none are given. A missing database yields an empty
// table.
func Load(paths ...string) *Names {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	n := New()
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		err = n.Parse(f)
		f.Close()
		if err == nil {
			n.source = path
			break
		}
	}
	return n
}

// Source returns the database file the table was loaded from, if any.
func (n *Names) Source() string {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.source
}

func key(vid, pid uint16) uint32 { return uint32(vid)<<16 | uint32(pid) }

// Parse adds the vendors and products listed in r, which is in usb.ids
// format: vendor lines "vvvv  Name" each followed by tab-indented product
// lines "\tpppp  Name". Interface and class sections are skipped.
func (n *Names) Parse(r io.Reader) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	var vid uint16
	var inVendor bool
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if line[0] == '\t' {
			if !inVendor || strings.HasPrefix(line, "\t\t") {
				continue
			}
			if id, name, ok := entry(line[1:]); ok {
				n.products[key(vid, id)] = name
			}
			continue
		}
		id, name, ok := entry(line)
		inVendor = ok
		if ok {
			vid = id
			n.vendors[vid] = name
		}
	}
	return s.Err()
}

// entry splits "xxxx  Name" into its hex ID and name.
func entry(line string) (uint16, string, bool) {
	if len(line) < 6 || line[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(line[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	return uint16(id), strings.TrimSpace(line[5:]), true
}

// Set names a product, overriding the database.
func (n *Names) Set(vid, pid uint16, product string) {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.products[key(vid, pid)] = product
}

// Vendor returns the vendor name of vid, or "".
func (n *Names) Vendor(vid uint16) string {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.vendors[vid]
}

// Product returns the product name of vid:pid, or "".
func (n *Names) Product(vid, pid uint16) string {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return n.products[key(vid, pid)]
}

// Len returns the number of vendors and products known.
func (n *Names) Len() (vendors, products int) {
	n.mutex.RLock()
	defer n.mutex.RUnlock()
	return len(n.vendors), len(n.products)
}

// Describe returns "Vendor Product", falling back to the hex IDs for the
// parts that are unknown.
func (n *Names) Describe(vid, pid uint16) string {
	v, p := n.Vendor(vid), n.Product(vid, pid)
	if v == "" {
		v = fmt.Sprintf("vendor %04x", vid)
	}
	if p == "" {
		p = fmt.Sprintf("product %04x", pid)
	}
	return v + " " + p
}
