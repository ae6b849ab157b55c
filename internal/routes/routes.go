// Package routes defines the route template and compiled route value types
// that identify REST endpoints for rate-limit bucketing.
//
// A Route is a method plus a path template with placeholders, e.g.
// "GET /channels/{channel}/messages". Compiling a route binds concrete
// parameter values, producing the request path and the major-parameter hash
// that partitions rate-limit buckets per resource.
package routes

import (
	"fmt"
	"strings"
)

// HashSeparator joins a bucket hash with a major-parameter hash to form the
// real bucket hash used for bucket lookup.
const HashSeparator = ";"

// noMajorParam is the major-param hash for routes without a major parameter.
// Such routes share one bucket per bucket hash globally.
const noMajorParam = "-"

// majorParams are the path parameters that partition a bucket hash into
// independent quotas per resource.
var majorParams = map[string]bool{
	"channel": true,
	"guild":   true,
	"webhook": true,
}

// Route is a template for a REST endpoint. Equality is defined over method
// and path template, so Route values are usable as map keys.
type Route struct {
	Method       string
	PathTemplate string
}

// New builds a route template from a method and path template.
func New(method, pathTemplate string) Route {
	return Route{Method: method, PathTemplate: pathTemplate}
}

// MajorParam returns the name of the route's major parameter, or "" if the
// route has none. The first placeholder that names a major parameter wins.
func (r Route) MajorParam() string {
	rest := r.PathTemplate
	for {
		open := strings.Index(rest, "{")
		if open < 0 {
			return ""
		}
		closing := strings.Index(rest[open:], "}")
		if closing < 0 {
			return ""
		}
		name := rest[open+1 : open+closing]
		if majorParams[name] {
			return name
		}
		rest = rest[open+closing+1:]
	}
}

// Compile binds concrete parameter values to the template, producing a
// CompiledRoute. Unbound placeholders are a programming error and panic.
func (r Route) Compile(params map[string]string) CompiledRoute {
	path := r.PathTemplate
	for name, value := range params {
		path = strings.ReplaceAll(path, "{"+name+"}", value)
	}
	if i := strings.Index(path, "{"); i >= 0 {
		panic(fmt.Sprintf("routes: unbound parameter in %s %s", r.Method, path))
	}

	majorHash := noMajorParam
	if mp := r.MajorParam(); mp != "" {
		if v, ok := params[mp]; ok {
			majorHash = v
		}
	}

	return CompiledRoute{
		Route:          r,
		CompiledPath:   path,
		MajorParamHash: majorHash,
	}
}

func (r Route) String() string {
	return r.Method + " " + r.PathTemplate
}

// CompiledRoute is a Route bound to concrete parameter values. It is an
// immutable value type; equality covers the route, compiled path, and
// major-parameter hash, so CompiledRoute values are usable as map keys.
type CompiledRoute struct {
	Route          Route
	CompiledPath   string
	MajorParamHash string
}

// URL prepends the API base URL to the compiled path.
func (c CompiledRoute) URL(baseURL string) string {
	return baseURL + c.CompiledPath
}

// RealBucketHash joins the server-provided bucket hash with the
// major-parameter hash. Two resources sharing a bucket hash never share a
// real bucket hash unless their major parameter values match.
func (c CompiledRoute) RealBucketHash(bucketHash string) string {
	return bucketHash + HashSeparator + c.MajorParamHash
}

func (c CompiledRoute) String() string {
	return c.Route.Method + " " + c.CompiledPath
}
