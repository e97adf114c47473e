// Package manifests holds the built-in dependency manifests.
package manifests

import _ "embed"

// Default is the manifest of the media player's third-party libraries.
//
//go:embed mpd.yaml
var Default []byte
