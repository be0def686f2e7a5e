// SPDX-FileCopyrightText: 2018 - 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loader

// dag 是模块依赖图，边从依赖指向依赖它的模块。
type dag struct {
	nodes []string
	index map[string]int
	edges map[string][]string
}

func newDag() *dag {
	return &dag{
		index: make(map[string]int),
		edges: make(map[string][]string),
	}
}

// addNode 返回 false 表示节点已存在。
func (g *dag) addNode(id string) bool {
	if _, ok := g.index[id]; ok {
		return false
	}
	g.index[id] = len(g.nodes)
	g.nodes = append(g.nodes, id)
	return true
}

func (g *dag) addEdge(from, to string) {
	g.addNode(from)
	g.addNode(to)
	for _, e := range g.edges[from] {
		if e == to {
			return
		}
	}
	g.edges[from] = append(g.edges[from], to)
}

// topologicalSort 按依赖顺序返回节点，有环时 ok 为 false。
func (g *dag) topologicalSort() (sorted []string, ok bool) {
	inDegree := make(map[string]int, len(g.nodes))
	for _, from := range g.nodes {
		for _, to := range g.edges[from] {
			inDegree[to]++
		}
	}

	queue := make([]string, 0, len(g.nodes))
	for _, id := range g.nodes {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	sorted = make([]string, 0, len(g.nodes))
	for len(queue) != 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)
		for _, to := range g.edges[id] {
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	return sorted, len(sorted) == len(g.nodes)
}
