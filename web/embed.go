// Package web embeds the page templates served by the gateway.
package web

import "embed"

// FS holds the embedded templates: index.html (listing page) and
// viewer.html (single route player/viewer).
//
//go:embed index.html viewer.html
var FS embed.FS
