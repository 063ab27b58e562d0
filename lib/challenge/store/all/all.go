// Package all is a meta-package that imports all store implementations.
//
// This is a HACK to make tests work consistently.
package all

import (
	_ "github.com/tollgatehq/tollgate/lib/challenge/store/bbolt"
	_ "github.com/tollgatehq/tollgate/lib/challenge/store/memory"
	_ "github.com/tollgatehq/tollgate/lib/challenge/store/valkey"
)
