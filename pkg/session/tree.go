package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss/tree"
)

// Node is one agent in the nested view of a session.
type Node struct {
	Agent    *AgentRecord
	Children []*Node
}

// Tree returns the agent hierarchy of rec rooted at the main agent. Agents
// whose parent is missing are attached to the root so nothing is hidden.
func Tree(rec *SessionRecord) *Node {
	root := rec.Root()
	if root == nil {
		return nil
	}

	nodes := make(map[string]*Node, len(rec.Agents))
	for id, a := range rec.Agents {
		nodes[id] = &Node{Agent: a}
	}
	for id, a := range rec.Agents {
		if id == root.ID {
			continue
		}
		parent, ok := nodes[a.ParentID]
		if !ok {
			parent = nodes[root.ID]
		}
		parent.Children = append(parent.Children, nodes[id])
	}
	for _, n := range nodes {
		sort.Slice(n.Children, func(i, j int) bool {
			return startedBefore(n.Children[i].Agent, n.Children[j].Agent)
		})
	}
	return nodes[root.ID]
}

// Walk visits n and its descendants depth first.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// RenderTree draws the agent hierarchy of rec as a terminal tree.
func RenderTree(rec *SessionRecord, now time.Time) string {
	root := Tree(rec)
	if root == nil {
		return ""
	}
	return buildTree(root, now).String()
}

func buildTree(n *Node, now time.Time) *tree.Tree {
	t := tree.Root(nodeLabel(n.Agent, now))
	for _, c := range n.Children {
		if len(c.Children) == 0 {
			t.Child(nodeLabel(c.Agent, now))
			continue
		}
		t.Child(buildTree(c, now))
	}
	return t
}

func nodeLabel(a *AgentRecord, now time.Time) string {
	var b strings.Builder
	b.WriteString(a.Name)
	if a.ID != a.Name {
		fmt.Fprintf(&b, " (%s)", a.ID)
	}
	fmt.Fprintf(&b, " [%s %s]", a.Status, a.Duration(now).Round(time.Second))
	return b.String()
}
