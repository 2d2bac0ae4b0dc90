package shadowgraph

import (
	"fmt"
	"sort"
	"strings"
)

// StrategicInsights renders natural-language statements about credential
// reach, host exposure, and multi-hop attack paths.
func (g *Graph) StrategicInsights() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var insights []string
	insights = append(insights, g.credentialReach()...)
	insights = append(insights, g.hostExposure()...)
	insights = append(insights, g.attackPaths()...)
	return insights
}

// credentialReach lists the hosts each credential grants access to.
// Callers must hold g.mu.
func (g *Graph) credentialReach() []string {
	var out []string
	for _, id := range g.sortedNodeIDs(NodeCredential) {
		cred := g.nodes[id]
		var targets []string
		for _, edge := range g.outgoing[id] {
			if edge.Type == EdgeAuthAccess {
				if target, ok := g.nodes[edge.Target]; ok {
					targets = append(targets, target.Label)
				}
			}
		}
		if len(targets) == 0 {
			continue
		}
		sort.Strings(targets)
		out = append(out, fmt.Sprintf("Credential '%s' grants access to %d host(s): %s",
			cred.Label, len(targets), strings.Join(targets, ", ")))
	}
	return out
}

// hostExposure reports per-host nonzero service and vulnerability counts.
// Callers must hold g.mu.
func (g *Graph) hostExposure() []string {
	var out []string
	for _, id := range g.sortedNodeIDs(NodeHost) {
		host := g.nodes[id]
		services, vulns := 0, 0
		for _, edge := range g.outgoing[id] {
			switch edge.Type {
			case EdgeHasService:
				services++
			case EdgeAffectedBy:
				vulns++
			}
		}
		if services > 0 {
			out = append(out, fmt.Sprintf("Host %s exposes %d service(s)", host.Label, services))
		}
		if vulns > 0 {
			out = append(out, fmt.Sprintf("Host %s is affected by %d known vulnerability(ies)", host.Label, vulns))
		}
	}
	return out
}

// attackPaths finds, for every credential, the shortest route to each host it
// does not already reach directly, reporting only paths with at least one
// intermediate hop. Callers must hold g.mu.
func (g *Graph) attackPaths() []string {
	var out []string
	hostIDs := g.sortedNodeIDs(NodeHost)

	for _, credID := range g.sortedNodeIDs(NodeCredential) {
		direct := make(map[string]bool)
		for _, edge := range g.outgoing[credID] {
			if edge.Type == EdgeAuthAccess {
				direct[edge.Target] = true
			}
		}

		for _, hostID := range hostIDs {
			if direct[hostID] {
				continue
			}
			path := g.shortestPath(credID, hostID)
			// A path worth reporting routes through at least one
			// intermediate node.
			if len(path) < 3 {
				continue
			}
			labels := make([]string, 0, len(path))
			for _, id := range path {
				labels = append(labels, g.nodes[id].Label)
			}
			out = append(out, "Potential attack path: "+strings.Join(labels, " -> "))
		}
	}
	return out
}

// shortestPath runs a breadth-first search over outgoing edges and returns
// the node id chain from source to target, or nil. Callers must hold g.mu.
func (g *Graph) shortestPath(source, target string) []string {
	if source == target {
		return []string{source}
	}
	visited := map[string]bool{source: true}
	parent := make(map[string]string)
	queue := []string{source}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, edge := range g.outgoing[current] {
			next := edge.Target
			if visited[next] {
				continue
			}
			visited[next] = true
			parent[next] = current
			if next == target {
				path := []string{target}
				for node := target; node != source; {
					node = parent[node]
					path = append([]string{node}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// sortedNodeIDs returns the ids of all nodes of one type, sorted. Callers
// must hold g.mu.
func (g *Graph) sortedNodeIDs(typ NodeType) []string {
	var ids []string
	for id, node := range g.nodes {
		if node.Type == typ {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ExportSummary produces the node-count digest.
func (g *Graph) ExportSummary() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	hosts, creds, vulns := 0, 0, 0
	for _, node := range g.nodes {
		switch node.Type {
		case NodeHost:
			hosts++
		case NodeCredential:
			creds++
		case NodeVulnerability:
			vulns++
		}
	}
	return fmt.Sprintf("Graph State: %d Hosts, %d Credentials, %d Vulnerabilities", hosts, creds, vulns)
}

// ToMermaid renders the graph as a mermaid flowchart.
func (g *Graph) ToMermaid() string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var b strings.Builder
	b.WriteString("graph TD\n")

	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		node := g.nodes[id]
		fmt.Fprintf(&b, "    %s[\"%s (%s)\"]\n", mermaidID(id), node.Label, node.Type)
	}

	for _, edge := range g.sortedEdges() {
		label := string(edge.Type)
		if proto := edge.Metadata["protocol"]; proto != "" {
			label += ":" + proto
		}
		fmt.Fprintf(&b, "    %s -->|%s| %s\n", mermaidID(edge.Source), label, mermaidID(edge.Target))
	}
	return b.String()
}

// sortedEdges returns edges in stable order. Callers must hold g.mu.
func (g *Graph) sortedEdges() []*Edge {
	out := make([]*Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// mermaidID strips characters mermaid treats as syntax.
func mermaidID(id string) string {
	replacer := strings.NewReplacer(":", "_", ".", "_", " ", "_", "/", "_")
	return replacer.Replace(id)
}
