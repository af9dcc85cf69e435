//go:build cgo

package exportstore

import (
	_ "github.com/tursodatabase/go-libsql"
)

const driverName = "libsql"

func checkDSNSupported(string) error { return nil }
