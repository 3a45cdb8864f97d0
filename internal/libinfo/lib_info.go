/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package libinfo exposes the library name and version used in outbound requests and log lines.
package libinfo

func UserAgent() string {
	return LibName + "/" + GetLibVersion()
}

func LogPrefix() string {
	return "[" + LibName + "/" + GetLibVersion() + "] "
}
