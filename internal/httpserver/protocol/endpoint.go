package protocol

import "net/http"

// EndpointRoute binds one method and path to a handler.
type EndpointRoute struct {
	Method  string
	Path    string
	Handler http.Handler
}

// Endpoint is a named group of routes mounted together.
type Endpoint interface {
	Name() string
	Routes() []EndpointRoute
}

// MethodsByPath groups routes by path. Paths are returned in first-seen
// order so registration stays deterministic.
func MethodsByPath(routes []EndpointRoute) (paths []string, methods map[string][]string) {
	methods = make(map[string][]string)
	for _, route := range routes {
		if _, ok := methods[route.Path]; !ok {
			paths = append(paths, route.Path)
		}
		methods[route.Path] = append(methods[route.Path], route.Method)
	}
	return paths, methods
}
