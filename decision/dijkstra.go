package decision

import (
	"container/heap"

	"github.com/openr/openr-go/state"
)

// spfResult holds, for every reachable node, its distance from the
// source and every equal-cost predecessor edge, spec.md §4.6 ("run
// Dijkstra from the local node, retaining all equal-cost
// predecessors").
type spfResult struct {
	Dist  map[state.NodeId]uint64
	Preds map[state.NodeId][]predecessor
}

type predecessor struct {
	From state.NodeId
	Edge edge
}

type pqItem struct {
	node state.NodeId
	dist uint64
}

type priorityQueue []pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(pqItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// dijkstra computes shortest distances and equal-cost predecessor sets
// from source over g. Ties are retained rather than broken, so callers
// can reconstruct every ECMP path.
func dijkstra(g *graph, source state.NodeId) spfResult {
	res := spfResult{
		Dist:  make(map[state.NodeId]uint64),
		Preds: make(map[state.NodeId][]predecessor),
	}
	res.Dist[source] = 0

	pq := &priorityQueue{{node: source, dist: 0}}
	heap.Init(pq)
	visited := make(map[state.NodeId]bool)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(pqItem)
		if visited[cur.node] {
			continue
		}
		visited[cur.node] = true

		for _, e := range g.edges[cur.node] {
			nd := cur.dist + uint64(e.Metric)
			existing, seen := res.Dist[e.To]
			switch {
			case !seen || nd < existing:
				res.Dist[e.To] = nd
				res.Preds[e.To] = []predecessor{{From: cur.node, Edge: e}}
				heap.Push(pq, pqItem{node: e.To, dist: nd})
			case nd == existing:
				res.Preds[e.To] = append(res.Preds[e.To], predecessor{From: cur.node, Edge: e})
			}
		}
	}
	return res
}

// firstHops returns, for a destination reachable from source, the set
// of distinct first-hop edges out of source across every equal-cost
// shortest path to dest — this is what SP_ECMP needs, spec.md §4.6
// ("Next-hop set = union over best origins d of equal-cost first-hop
// adjacencies toward d").
func firstHops(res spfResult, source, dest state.NodeId) []edge {
	if dest == source {
		return nil
	}
	seen := make(map[state.InterfaceName]bool)
	var out []edge
	var walk func(node state.NodeId)
	walk = func(node state.NodeId) {
		for _, p := range res.Preds[node] {
			if p.From == source {
				if !seen[p.Edge.Iface] {
					seen[p.Edge.Iface] = true
					out = append(out, p.Edge)
				}
				continue
			}
			walk(p.From)
		}
	}
	walk(dest)
	return out
}
