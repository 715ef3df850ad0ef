// Package autoload registers every built-in channel factory as a side effect
// of being imported. main imports it blank so the binary supports all
// channels without each caller needing to know the channel package names.
package autoload

import (
	_ "genesis/pkg/channels/telegram"
	_ "genesis/pkg/channels/web"
)
