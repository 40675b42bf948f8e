package api

import (
	"github.com/danielgtaylor/huma/v2"
)

// links maps operation paths to their RFC 8288 Link header values.
// Enables restish hypermedia navigation via `restish links <url>`.
var links = map[string][]string{
	"/health": {
		`</api/v1/info>; rel="info"`,
		`</api/v1/view>; rel="view"`,
		`</api/v1/history>; rel="history"`,
	},
	"/api/v1/info": {
		`</health>; rel="health"`,
		`</api/v1/view>; rel="view"`,
	},
	"/api/v1/view": {
		`</api/v1/view/image>; rel="image"`,
		`</api/v1/view/markers.geojson>; rel="markers"`,
		`</api/v1/history>; rel="history"`,
	},
	"/api/v1/view/search/coords": {
		`</api/v1/view>; rel="view"`,
		`</api/v1/view/image>; rel="image"`,
	},
	"/api/v1/view/search/name": {
		`</api/v1/view>; rel="view"`,
		`</api/v1/view/image>; rel="image"`,
		`</api/v1/history>; rel="history"`,
	},
	"/api/v1/view/layer": {
		`</api/v1/view>; rel="view"`,
		`</api/v1/view/image>; rel="image"`,
	},
	"/api/v1/view/zoom": {
		`</api/v1/view>; rel="view"`,
		`</api/v1/view/image>; rel="image"`,
	},
	"/api/v1/view/pan": {
		`</api/v1/view>; rel="view"`,
		`</api/v1/view/image>; rel="image"`,
	},
	"/api/v1/view/markers": {
		`</api/v1/view/markers.geojson>; rel="markers"`,
	},
	"/api/v1/view/markers.geojson": {
		`</api/v1/view>; rel="view"`,
	},
	"/api/v1/history": {
		`</api/v1/view/search/name>; rel="search"`,
	},
}

// LinkTransformer returns a Huma Transformer that injects RFC 8288 Link headers.
func LinkTransformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil {
			return v, nil
		}

		for _, link := range links[op.Path] {
			ctx.AppendHeader("Link", link)
		}
		ctx.AppendHeader("Link", `<`+ctx.URL().Path+`>; rel="self"`)

		return v, nil
	}
}
