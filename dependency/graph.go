package dependency

import (
	"sort"
	"strings"

	"github.com/shiftsmith/shiftsmith/models"
)

// prefixTarget finds the component a dependency name points at by prefix
// matching: "api-orders" matches component "api". Only delimiter-separated
// prefixes count; a dependency named exactly like a component is not a
// reference to it. The longest matching component wins so
// "api-gateway-cache" prefers "api-gateway" over "api".
func prefixTarget(depName string, componentNames []string) (string, bool) {
	best := ""
	for _, name := range componentNames {
		if !strings.HasPrefix(depName, name+"-") && !strings.HasPrefix(depName, name+".") {
			continue
		}
		if len(name) > len(best) {
			best = name
		}
	}
	return best, best != ""
}

// findCycle runs depth-first cycle detection over the adjacency and
// returns the offending path, or nil when the graph is acyclic.
func findCycle(components map[string][]*models.ComponentDependency, edges map[string][]string) []string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the current path
		black = 2 // fully explored
	)

	color := make(map[string]int, len(components))
	var path []string
	var cycle []string

	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = grey
		path = append(path, node)

		for _, next := range edges[node] {
			if _, known := components[next]; !known {
				continue
			}
			switch color[next] {
			case grey:
				// Found the back edge; slice the cycle out of the path.
				for i, n := range path {
					if n == next {
						cycle = append(append([]string{}, path[i:]...), next)
						return true
					}
				}
			case white:
				if visit(next) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
		return false
	}

	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if color[name] == white && visit(name) {
			return cycle
		}
	}
	return nil
}

// resolutionOrder computes a topological order via Kahn's algorithm such
// that every component appears after the components it depends on. Returns
// UnresolvableGraphError when the order cannot cover every component,
// which would indicate a residual cycle or inconsistent adjacency that
// slipped past construction.
func resolutionOrder(graph *models.DependencyGraph) ([]string, error) {
	inDegree := make(map[string]int, len(graph.Components))
	dependents := make(map[string][]string, len(graph.Components))

	for name := range graph.Components {
		inDegree[name] = 0
	}
	for from, targets := range graph.Edges {
		for _, to := range targets {
			if _, known := graph.Components[to]; !known {
				continue
			}
			inDegree[from]++
			dependents[to] = append(dependents[to], from)
		}
	}

	// Deterministic order among peers keeps logs and tests stable.
	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(graph.Components))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		ready := []string{}
		for _, dep := range dependents[node] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(order) != len(graph.Components) {
		return nil, &UnresolvableGraphError{Ordered: len(order), Components: len(graph.Components)}
	}

	return order, nil
}
