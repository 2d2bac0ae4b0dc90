// Package shadowgraph derives a directed host/service/credential/
// vulnerability graph from the shared notes store. The graph is never
// hand-edited; every node and edge comes from note extraction.
package shadowgraph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/observability"
)

// NodeType classifies graph nodes.
type NodeType string

const (
	NodeHost          NodeType = "host"
	NodeService       NodeType = "service"
	NodeCredential    NodeType = "credential"
	NodeVulnerability NodeType = "vulnerability"
)

// EdgeType classifies graph edges.
type EdgeType string

const (
	// EdgeContains records provenance: the host a credential was found on.
	EdgeContains EdgeType = "CONTAINS"
	// EdgeAuthAccess records that a credential grants access to a host.
	EdgeAuthAccess EdgeType = "AUTH_ACCESS"
	// EdgeHasService links a host to a listening service.
	EdgeHasService EdgeType = "HAS_SERVICE"
	// EdgeAffectedBy links a host to a known vulnerability.
	EdgeAffectedBy EdgeType = "AFFECTED_BY"
)

// Node is one derived entity.
type Node struct {
	ID       string            `json:"id"`
	Type     NodeType          `json:"type"`
	Label    string            `json:"label"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Edge is one directed relation between nodes.
type Edge struct {
	Source   string            `json:"source"`
	Target   string            `json:"target"`
	Type     EdgeType          `json:"type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Extraction patterns over free note text.
var (
	ipPattern     = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	portPattern   = regexp.MustCompile(`(\d{1,5})/(tcp|udp)`)
	userPattern   = regexp.MustCompile(`(?i)(?:user|username)[:\s]+([a-zA-Z0-9_.-]+)`)
	sourcePattern = regexp.MustCompile(`(?i)(?:found on|dumped from|extracted from|on host)\s+((?:\d{1,3}\.){3}\d{1,3})`)
	cvePattern    = regexp.MustCompile(`CVE-\d{4}-\d{4,7}`)
)

// knownProtocols, in inference order, for annotating credential access edges.
var knownProtocols = []string{"ssh", "rdp", "smb", "winrm", "ftp", "mysql", "postgres", "telnet", "vnc", "http"}

// Graph is the in-memory shadow graph. Safe for concurrent use.
type Graph struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	edges    map[string]*Edge
	outgoing map[string][]*Edge
	// processed guards idempotence: a note key is extracted exactly once,
	// even if its content later changes.
	processed map[string]bool
	log       *zap.Logger
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:     make(map[string]*Node),
		edges:     make(map[string]*Edge),
		outgoing:  make(map[string][]*Edge),
		processed: make(map[string]bool),
		log:       observability.GetLogger().Named("shadowgraph"),
	}
}

// addNode inserts a node if absent. Callers must hold g.mu.
func (g *Graph) addNode(id string, typ NodeType, label string, metadata map[string]string) *Node {
	if existing, ok := g.nodes[id]; ok {
		return existing
	}
	node := &Node{ID: id, Type: typ, Label: label, Metadata: metadata}
	g.nodes[id] = node
	return node
}

// addEdge inserts a directed edge if an identical one is absent. Callers must
// hold g.mu.
func (g *Graph) addEdge(source, target string, typ EdgeType, metadata map[string]string) {
	key := source + "|" + string(typ) + "|" + target
	if _, ok := g.edges[key]; ok {
		return
	}
	edge := &Edge{Source: source, Target: target, Type: typ, Metadata: metadata}
	g.edges[key] = edge
	g.outgoing[source] = append(g.outgoing[source], edge)
}

// UpdateFromNotes folds every not-yet-processed note into the graph. Keys are
// handled in sorted order so repeated runs over the same store are
// deterministic. Reprocessing a key is a no-op even if its content changed.
func (g *Graph) UpdateFromNotes(all map[string]schemas.Note) {
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	g.mu.Lock()
	defer g.mu.Unlock()

	added := 0
	for _, key := range keys {
		if g.processed[key] {
			continue
		}
		g.processNote(key, all[key])
		g.processed[key] = true
		added++
	}
	if added > 0 {
		g.log.Debug("Shadow graph updated.",
			zap.Int("notes_processed", added),
			zap.Int("nodes", len(g.nodes)),
			zap.Int("edges", len(g.edges)))
	}
}

// processNote extracts structure from one note. Callers must hold g.mu.
func (g *Graph) processNote(key string, note schemas.Note) {
	hosts := extractHosts(note)
	for _, host := range hosts {
		g.addNode("host:"+host, NodeHost, host, nil)
	}

	switch note.Category {
	case schemas.CategoryCredential:
		g.processCredential(key, note, hosts)
	case schemas.CategoryFinding:
		g.processFinding(note, hosts)
	case schemas.CategoryVulnerability:
		g.processVulnerability(key, note, hosts)
	}
}

// processCredential creates a credential node, a provenance edge from its
// source host, and access edges to every other related host.
func (g *Graph) processCredential(key string, note schemas.Note, hosts []string) {
	username := note.Metadata["username"]
	if username == "" {
		if m := userPattern.FindStringSubmatch(note.Content); m != nil {
			username = m[1]
		}
	}
	label := key
	if username != "" {
		label = username
	}
	credID := "cred:" + key
	g.addNode(credID, NodeCredential, label, map[string]string{"username": username})

	source := note.Metadata["source"]
	if source == "" {
		if m := sourcePattern.FindStringSubmatch(note.Content); m != nil {
			source = m[1]
		}
	}
	if source != "" {
		g.addNode("host:"+source, NodeHost, source, nil)
		g.addEdge("host:"+source, credID, EdgeContains, nil)
	}

	protocol := inferProtocol(note.Content)
	for _, host := range hosts {
		if host == source {
			// Provenance only; the source host never gets an access edge.
			continue
		}
		g.addEdge(credID, "host:"+host, EdgeAuthAccess, map[string]string{"protocol": protocol})
	}
}

// processFinding creates a service node per (host, port) pair.
func (g *Graph) processFinding(note schemas.Note, hosts []string) {
	type portProto struct {
		port     string
		protocol string
	}
	var pairs []portProto
	if p := note.Metadata["port"]; p != "" {
		proto := note.Metadata["protocol"]
		if proto == "" {
			proto = "tcp"
		}
		pairs = append(pairs, portProto{p, proto})
	}
	for _, m := range portPattern.FindAllStringSubmatch(note.Content, -1) {
		pairs = append(pairs, portProto{m[1], m[2]})
	}

	// Metadata target wins host attachment; extracted addresses otherwise.
	attach := hosts
	if target := note.Metadata["target"]; target != "" {
		attach = []string{target}
	}
	for _, host := range attach {
		for _, pp := range pairs {
			serviceID := fmt.Sprintf("service:host:%s:%s", host, pp.port)
			g.addNode(serviceID, NodeService, fmt.Sprintf("%s:%s", host, pp.port),
				map[string]string{"port": pp.port, "protocol": pp.protocol})
			g.addEdge("host:"+host, serviceID, EdgeHasService, map[string]string{"protocol": pp.protocol})
		}
	}
}

// processVulnerability creates a vulnerability node and links affected hosts.
func (g *Graph) processVulnerability(key string, note schemas.Note, hosts []string) {
	cve := note.Metadata["cve"]
	if cve == "" {
		cve = cvePattern.FindString(note.Content)
	}
	label := key
	if cve != "" {
		label = cve
	}
	vulnID := "vuln:" + key
	g.addNode(vulnID, NodeVulnerability, label, map[string]string{"cve": cve})

	// Metadata target wins host attachment, as in processFinding.
	attach := hosts
	if target := note.Metadata["target"]; target != "" {
		attach = []string{target}
	}
	for _, host := range attach {
		g.addEdge("host:"+host, vulnID, EdgeAffectedBy, nil)
	}
}

// extractHosts collects host addresses from the metadata target/source
// fields. Address patterns in free text are a fallback used only when the
// metadata yields nothing, so incidental IPs in prose never become hosts.
func extractHosts(note schemas.Note) []string {
	set := make(map[string]bool)
	if t := note.Metadata["target"]; t != "" {
		set[t] = true
	}
	if s := note.Metadata["source"]; s != "" {
		set[s] = true
	}
	if len(set) == 0 {
		for _, ip := range ipPattern.FindAllString(note.Content, -1) {
			set[ip] = true
		}
	}
	hosts := make([]string, 0, len(set))
	for h := range set {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

// inferProtocol guesses the access protocol a credential note refers to.
func inferProtocol(content string) string {
	lower := strings.ToLower(content)
	for _, proto := range knownProtocols {
		if strings.Contains(lower, proto) {
			return proto
		}
	}
	return "unknown"
}

// NodeCount and EdgeCount report graph size.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// GetNode returns a copy of the node with the given id.
func (g *Graph) GetNode(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// Edges returns a copy of every edge, sorted for stable output.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// HasEdge reports whether an edge of the given type exists between two nodes.
func (g *Graph) HasEdge(source, target string, typ EdgeType) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[source+"|"+string(typ)+"|"+target]
	return ok
}
