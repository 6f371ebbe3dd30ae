package proxy

import "net/http"

// route is the handling chosen for an inbound request.
type route int

const (
	routeUnsupported route = iota
	routeTunnel
	routeForward
)

// allowedMethods is sent in the Allow header of refused requests.
const allowedMethods = "CONNECT, GET, POST"

func (r route) String() string {
	switch r {
	case routeTunnel:
		return "connect"
	case routeForward:
		return "forward"
	default:
		return "unsupported"
	}
}

// classify matches method tokens exactly; they are case-sensitive, so "get"
// is an extension method and refused.
func classify(method string) route {
	switch method {
	case http.MethodConnect:
		return routeTunnel
	case http.MethodGet, http.MethodPost:
		return routeForward
	default:
		return routeUnsupported
	}
}
