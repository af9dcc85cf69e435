//go:build !cgo

package exportstore

import (
	"database/sql"
	"errors"
	"strings"

	sqlite "modernc.org/sqlite"
)

const driverName = "libsql"

func init() {
	sql.Register(driverName, &sqlite.Driver{})
}

// checkDSNSupported rejects remote libsql URLs, which need the cgo driver.
func checkDSNSupported(dsn string) error {
	if strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://") {
		return errors.New("libsql URL requires cgo-enabled build")
	}
	return nil
}
