package graph

import (
	"context"
	"fmt"
	"sort"
)

// neighborFunc lists the undirected neighbors of a node, deduplicated and
// sorted ascending so traversals are deterministic.
type neighborFunc func(ctx context.Context, id string) ([]string, error)

// bfsVisit walks outward from start up to depth hops and returns the set of
// reached node ids, start included.
func bfsVisit(ctx context.Context, start string, depth int, neighbors neighborFunc) (map[string]bool, error) {
	visited := map[string]bool{start: true}
	frontier := []string{start}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			adj, err := neighbors(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("neighbors of %s: %w", id, err)
			}
			for _, n := range adj {
				if !visited[n] {
					visited[n] = true
					next = append(next, n)
				}
			}
		}
		frontier = next
	}
	return visited, nil
}

// bfsPath finds a shortest undirected path from from to to. Neighbor order
// is deterministic, so among equal-length paths the lexicographically
// smallest is returned.
func bfsPath(ctx context.Context, from, to string, neighbors neighborFunc) ([]string, error) {
	if from == to {
		return []string{from}, nil
	}

	parent := map[string]string{from: ""}
	frontier := []string{from}

	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			adj, err := neighbors(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("neighbors of %s: %w", id, err)
			}
			for _, n := range adj {
				if _, seen := parent[n]; seen {
					continue
				}
				parent[n] = id
				if n == to {
					return rebuildPath(parent, from, to), nil
				}
				next = append(next, n)
			}
		}
		frontier = next
	}
	return nil, fmt.Errorf("%s -> %s: %w", from, to, ErrNoPath)
}

func rebuildPath(parent map[string]string, from, to string) []string {
	var rev []string
	for id := to; id != ""; id = parent[id] {
		rev = append(rev, id)
		if id == from {
			break
		}
	}
	path := make([]string, 0, len(rev))
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return path
}

// sortedIDs returns the keys of a visited set in ascending order.
func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
