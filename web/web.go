// Package web embeds the viewer page and its HTML fragments.
package web

import "embed"

// FS holds templates/ and static/.
//
//go:embed templates static
var FS embed.FS

// FragmentsPattern matches the fragment templates inside FS.
const FragmentsPattern = "templates/fragments/*.html"

// ViewerPage is the path of the viewer page inside FS.
const ViewerPage = "templates/viewer.html"
