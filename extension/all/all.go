// Package all imports all core fhird extensions.
// Import this package to register all built-in commands.
package all

import (
	// Core extensions - each registers itself via init()
	_ "github.com/jpl-au/fhird/extension/core"
	_ "github.com/jpl-au/fhird/extension/resource"
)
