//go:build cgo

package backend

// godror links ODPI-C, so the DM8 driver is only available in cgo builds.
import _ "github.com/godror/godror"
