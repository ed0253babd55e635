package webserver

import (
	"regexp"
	"strings"

	"github.com/evantahler/bun-actionhero-sub000/internal/action"
)

// compiledRoute is one action's HTTP binding, reduced to the regex form
// spec §4.3 "Routing" describes: ":name" segments become "([^/]+)"
// capture groups, the method must match exactly.
type compiledRoute struct {
	method     string
	regex      *regexp.Regexp
	paramNames []string
	action     *action.Action
}

// compileRoute converts a declared route pattern ("/users/:id") into an
// anchored regex, escaping the literal segments and capturing the named
// ones.
func compileRoute(pattern string) (*regexp.Regexp, []string) {
	segments := strings.Split(pattern, "/")
	var names []string
	out := make([]string, len(segments))
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") && len(seg) > 1 {
			names = append(names, seg[1:])
			out[i] = `([^/]+)`
		} else {
			out[i] = regexp.QuoteMeta(seg)
		}
	}
	return regexp.MustCompile("^" + strings.Join(out, "/") + "$"), names
}

// buildRoutes compiles every action's HTTP binding once at startup, in
// registration order.
func buildRoutes(reg *action.Registry) []compiledRoute {
	var out []compiledRoute
	for _, a := range reg.All() {
		if a.HTTP == nil {
			continue
		}
		re, names := compileRoute(a.HTTP.Route)
		out = append(out, compiledRoute{
			method:     strings.ToUpper(a.HTTP.Method),
			regex:      re,
			paramNames: names,
			action:     a,
		})
	}
	return out
}

// match finds the first route whose regex matches pathname, requiring
// an exact method match (spec §4.3: "the HTTP method must match
// exactly"). Path parameters are returned keyed by name.
func (s *Server) match(method, pathname string) (*action.Action, map[string]string, bool) {
	for _, r := range s.routes {
		m := r.regex.FindStringSubmatch(pathname)
		if m == nil || r.method != method {
			continue
		}
		params := make(map[string]string, len(r.paramNames))
		for i, name := range r.paramNames {
			params[name] = m[i+1]
		}
		return r.action, params, true
	}
	return nil, nil, false
}
