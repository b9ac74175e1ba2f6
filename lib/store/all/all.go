// Package all is a meta-package that imports all store implementations.
//
// Importing it makes every backend available to config validation and the
// command line tool.
package all

import (
	_ "github.com/TecharoHQ/ethotp/lib/store/bbolt"
	_ "github.com/TecharoHQ/ethotp/lib/store/memory"
	_ "github.com/TecharoHQ/ethotp/lib/store/valkey"
)
