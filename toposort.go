package flowline

import "fmt"

// OrderNodes produces one linear execution order for the given nodes.
//
// With no connections the nodes are returned as given, so a graphless
// single-node workflow runs trivially. Otherwise every connection is a
// dependency from → to and the result is a total order consistent with all
// of them. Isolated nodes are still included exactly once: each is treated
// as its own one-element dependency component. A cyclic connection set
// yields a *CycleError.
func OrderNodes(nodes []Node, connections []Connection) ([]Node, error) {
	if len(connections) == 0 {
		return nodes, nil
	}

	nodeByID := make(map[string]*Node, len(nodes))
	for i := range nodes {
		nodeByID[nodes[i].ID] = &nodes[i]
	}

	inDegree := make(map[string]int, len(nodes))
	successors := make(map[string][]string, len(nodes))
	for i := range nodes {
		inDegree[nodes[i].ID] = 0
	}

	for _, conn := range connections {
		if _, ok := nodeByID[conn.FromNodeID]; !ok {
			return nil, fmt.Errorf("connection references unknown node: %s", conn.FromNodeID)
		}
		if _, ok := nodeByID[conn.ToNodeID]; !ok {
			return nil, fmt.Errorf("connection references unknown node: %s", conn.ToNodeID)
		}

		successors[conn.FromNodeID] = append(successors[conn.FromNodeID], conn.ToNodeID)
		inDegree[conn.ToNodeID]++
	}

	// Kahn's algorithm seeded in input order, so ties resolve
	// deterministically for a given node slice.
	queue := make([]string, 0, len(nodes))
	for i := range nodes {
		if inDegree[nodes[i].ID] == 0 {
			queue = append(queue, nodes[i].ID)
		}
	}

	ordered := make([]Node, 0, len(nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]

		ordered = append(ordered, *nodeByID[id])

		for _, succ := range successors[id] {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	if len(ordered) != len(nodes) {
		for id, deg := range inDegree {
			if deg > 0 {
				return nil, &CycleError{NodeID: id}
			}
		}

		return nil, &CycleError{}
	}

	return ordered, nil
}
