package flowline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodesOf(ids ...string) []Node {
	nodes := make([]Node, len(ids))
	for i, id := range ids {
		nodes[i] = Node{ID: id, Type: NodeTypeHTTPRequest}
	}

	return nodes
}

func orderedIDs(nodes []Node) []string {
	ids := make([]string, len(nodes))
	for i, node := range nodes {
		ids[i] = node.ID
	}

	return ids
}

func TestOrderNodes_LinearChain(t *testing.T) {
	nodes := nodesOf("c", "a", "b")
	connections := []Connection{
		{FromNodeID: "a", ToNodeID: "b"},
		{FromNodeID: "b", ToNodeID: "c"},
	}

	ordered, err := OrderNodes(nodes, connections)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, orderedIDs(ordered))
}

func TestOrderNodes_EveryNodeAppearsOnce(t *testing.T) {
	nodes := nodesOf("a", "b", "c", "d", "isolated")
	connections := []Connection{
		{FromNodeID: "a", ToNodeID: "c"},
		{FromNodeID: "b", ToNodeID: "c"},
		{FromNodeID: "c", ToNodeID: "d"},
	}

	ordered, err := OrderNodes(nodes, connections)
	require.NoError(t, err)
	require.Len(t, ordered, len(nodes))

	seen := make(map[string]int)
	for _, node := range ordered {
		seen[node.ID]++
	}
	for _, node := range nodes {
		assert.Equal(t, 1, seen[node.ID], "node %s", node.ID)
	}
}

func TestOrderNodes_EdgeOrderRespected(t *testing.T) {
	nodes := nodesOf("e", "d", "c", "b", "a")
	connections := []Connection{
		{FromNodeID: "a", ToNodeID: "b"},
		{FromNodeID: "a", ToNodeID: "c"},
		{FromNodeID: "b", ToNodeID: "d"},
		{FromNodeID: "c", ToNodeID: "d"},
		{FromNodeID: "d", ToNodeID: "e"},
	}

	ordered, err := OrderNodes(nodes, connections)
	require.NoError(t, err)

	position := make(map[string]int, len(ordered))
	for i, node := range ordered {
		position[node.ID] = i
	}

	for _, conn := range connections {
		assert.Less(t, position[conn.FromNodeID], position[conn.ToNodeID],
			"edge %s -> %s", conn.FromNodeID, conn.ToNodeID)
	}
}

func TestOrderNodes_NoConnectionsPreservesInputOrder(t *testing.T) {
	nodes := nodesOf("z", "m", "a")

	ordered, err := OrderNodes(nodes, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "m", "a"}, orderedIDs(ordered))
}

func TestOrderNodes_CycleDetected(t *testing.T) {
	nodes := nodesOf("a", "b", "c")
	connections := []Connection{
		{FromNodeID: "a", ToNodeID: "b"},
		{FromNodeID: "b", ToNodeID: "c"},
		{FromNodeID: "c", ToNodeID: "a"},
	}

	_, err := OrderNodes(nodes, connections)
	require.Error(t, err)

	var cycleErr *CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestOrderNodes_SelfLoopDetected(t *testing.T) {
	nodes := nodesOf("a")
	connections := []Connection{
		{FromNodeID: "a", ToNodeID: "a"},
	}

	_, err := OrderNodes(nodes, connections)

	var cycleErr *CycleError
	assert.ErrorAs(t, err, &cycleErr)
}

func TestOrderNodes_UnknownEndpointRejected(t *testing.T) {
	nodes := nodesOf("a", "b")
	connections := []Connection{
		{FromNodeID: "a", ToNodeID: "ghost"},
	}

	_, err := OrderNodes(nodes, connections)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestOrderNodes_Empty(t *testing.T) {
	ordered, err := OrderNodes(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, ordered)
}
