package shadowgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wraithsec/wraith-cli/api/schemas"
)

func TestFindingCreatesServiceNodes(t *testing.T) {
	g := New()
	g.UpdateFromNotes(map[string]schemas.Note{
		"scan-1": {
			Content:  "Found open ports: 80/tcp on 10.0.0.5",
			Category: schemas.CategoryFinding,
			Metadata: map[string]string{"target": "10.0.0.5"},
		},
	})

	host, ok := g.GetNode("host:10.0.0.5")
	require.True(t, ok)
	assert.Equal(t, NodeHost, host.Type)

	service, ok := g.GetNode("service:host:10.0.0.5:80")
	require.True(t, ok)
	assert.Equal(t, NodeService, service.Type)
	assert.Equal(t, "80", service.Metadata["port"])

	assert.True(t, g.HasEdge("host:10.0.0.5", "service:host:10.0.0.5:80", EdgeHasService))
	edges := g.Edges()
	require.Len(t, edges, 1)
	assert.Equal(t, "tcp", edges[0].Metadata["protocol"])
}

func TestCredentialProvenanceAndAccess(t *testing.T) {
	g := New()
	g.UpdateFromNotes(map[string]schemas.Note{
		"cred-1": {
			Content:  "dumped domain credentials over smb",
			Category: schemas.CategoryCredential,
			Metadata: map[string]string{"username": "admin", "target": "10.0.0.9", "source": "10.0.0.1"},
		},
	})

	cred, ok := g.GetNode("cred:cred-1")
	require.True(t, ok)
	assert.Equal(t, "admin", cred.Label)

	// Provenance from the source host, access to the target, never back to
	// the source.
	assert.True(t, g.HasEdge("host:10.0.0.1", "cred:cred-1", EdgeContains))
	assert.True(t, g.HasEdge("cred:cred-1", "host:10.0.0.9", EdgeAuthAccess))
	assert.False(t, g.HasEdge("cred:cred-1", "host:10.0.0.1", EdgeAuthAccess))
}

func TestCredentialTextExtraction(t *testing.T) {
	g := New()
	g.UpdateFromNotes(map[string]schemas.Note{
		"cred-ssh": {
			Content:  "username: svc_backup works for ssh, dumped from 10.0.0.2, valid on 10.0.0.7",
			Category: schemas.CategoryCredential,
		},
	})

	cred, ok := g.GetNode("cred:cred-ssh")
	require.True(t, ok)
	assert.Equal(t, "svc_backup", cred.Label)

	assert.True(t, g.HasEdge("host:10.0.0.2", "cred:cred-ssh", EdgeContains))
	assert.True(t, g.HasEdge("cred:cred-ssh", "host:10.0.0.7", EdgeAuthAccess))

	for _, e := range g.Edges() {
		if e.Type == EdgeAuthAccess {
			assert.Equal(t, "ssh", e.Metadata["protocol"])
		}
	}
}

func TestVulnerabilityExtraction(t *testing.T) {
	g := New()
	g.UpdateFromNotes(map[string]schemas.Note{
		"vuln-1": {
			Content:  "10.0.0.5 appears vulnerable to CVE-2021-44228 via the login form",
			Category: schemas.CategoryVulnerability,
		},
	})

	vuln, ok := g.GetNode("vuln:vuln-1")
	require.True(t, ok)
	assert.Equal(t, "CVE-2021-44228", vuln.Label)
	assert.True(t, g.HasEdge("host:10.0.0.5", "vuln:vuln-1", EdgeAffectedBy))
}

func TestUpdateFromNotesIsIdempotent(t *testing.T) {
	notes := map[string]schemas.Note{
		"scan-1": {
			Content:  "Found open ports: 80/tcp and 443/tcp on 10.0.0.5",
			Category: schemas.CategoryFinding,
			Metadata: map[string]string{"target": "10.0.0.5"},
		},
	}
	g := New()
	g.UpdateFromNotes(notes)
	nodes, edges := g.NodeCount(), g.EdgeCount()

	g.UpdateFromNotes(notes)
	assert.Equal(t, nodes, g.NodeCount())
	assert.Equal(t, edges, g.EdgeCount())

	// A changed note under the same key is ignored after first processing.
	notes["scan-1"] = schemas.Note{
		Content:  "now also 8080/tcp on 10.0.0.99",
		Category: schemas.CategoryFinding,
	}
	g.UpdateFromNotes(notes)
	assert.Equal(t, nodes, g.NodeCount())
	assert.Equal(t, edges, g.EdgeCount())
}

func TestStrategicInsights(t *testing.T) {
	g := New()
	g.UpdateFromNotes(map[string]schemas.Note{
		"cred-1": {
			Content:  "ssh credentials",
			Category: schemas.CategoryCredential,
			Metadata: map[string]string{"username": "admin", "target": "10.0.0.9", "source": "10.0.0.1"},
		},
		"scan-1": {
			Content:  "Found open ports: 80/tcp on 10.0.0.9",
			Category: schemas.CategoryFinding,
			Metadata: map[string]string{"target": "10.0.0.9"},
		},
		"vuln-1": {
			Content:  "CVE-2024-3094 confirmed",
			Category: schemas.CategoryVulnerability,
			Metadata: map[string]string{"target": "10.0.0.9"},
		},
	})

	insights := g.StrategicInsights()
	joined := ""
	for _, s := range insights {
		joined += s + "\n"
	}
	assert.Contains(t, joined, "Credential 'admin' grants access to 1 host(s): 10.0.0.9")
	assert.Contains(t, joined, "Host 10.0.0.9 exposes 1 service(s)")
	assert.Contains(t, joined, "Host 10.0.0.9 is affected by 1 known vulnerability(ies)")
}

func TestAttackPathRequiresIntermediateHop(t *testing.T) {
	g := New()
	// cred-a was found on 10.0.0.1 and reaches 10.0.0.2 directly. cred-b was
	// found on 10.0.0.2 and reaches 10.0.0.3. So cred-a reaches 10.0.0.3
	// only through the intermediate chain.
	g.UpdateFromNotes(map[string]schemas.Note{
		"cred-a": {
			Content:  "ssh key",
			Category: schemas.CategoryCredential,
			Metadata: map[string]string{"username": "alpha", "target": "10.0.0.2", "source": "10.0.0.1"},
		},
		"cred-b": {
			Content:  "ssh password",
			Category: schemas.CategoryCredential,
			Metadata: map[string]string{"username": "bravo", "target": "10.0.0.3", "source": "10.0.0.2"},
		},
	})

	insights := g.StrategicInsights()
	var path string
	for _, s := range insights {
		if len(s) > len("Potential attack path") && s[:21] == "Potential attack path" {
			path = s
		}
	}
	require.NotEmpty(t, path, "a multi-hop path must be reported")
	assert.Contains(t, path, "alpha -> 10.0.0.2 -> bravo -> 10.0.0.3")
}

func TestExportSummaryAndMermaid(t *testing.T) {
	g := New()
	g.UpdateFromNotes(map[string]schemas.Note{
		"cred-1": {
			Content:  "creds",
			Category: schemas.CategoryCredential,
			Metadata: map[string]string{"username": "admin", "target": "10.0.0.9"},
		},
		"vuln-1": {
			Content:  "CVE-2023-1234",
			Category: schemas.CategoryVulnerability,
			Metadata: map[string]string{"target": "10.0.0.9"},
		},
	})

	assert.Equal(t, "Graph State: 1 Hosts, 1 Credentials, 1 Vulnerabilities", g.ExportSummary())

	mermaid := g.ToMermaid()
	assert.Contains(t, mermaid, "graph TD")
	assert.Contains(t, mermaid, "host_10_0_0_9")
	assert.Contains(t, mermaid, "AUTH_ACCESS")
}

func TestVulnerabilityMetadataTargetWinsHostAttachment(t *testing.T) {
	g := New()
	g.UpdateFromNotes(map[string]schemas.Note{
		"vuln-log4j": {
			Content:  "CVE-2021-44228 confirmed on the app server; callback received from 10.0.0.9",
			Category: schemas.CategoryVulnerability,
			Metadata: map[string]string{"target": "10.0.0.5"},
		},
	})

	assert.True(t, g.HasEdge("host:10.0.0.5", "vuln:vuln-log4j", EdgeAffectedBy))

	// The IP mentioned in prose is not a host: metadata decides attachment.
	_, ok := g.GetNode("host:10.0.0.9")
	assert.False(t, ok)
	assert.False(t, g.HasEdge("host:10.0.0.9", "vuln:vuln-log4j", EdgeAffectedBy))
}

func TestCredentialIgnoresIncidentalContentHosts(t *testing.T) {
	g := New()
	g.UpdateFromNotes(map[string]schemas.Note{
		"cred-da": {
			Content:  "domain admin password, also seen in traffic from 10.0.0.77 over ssh",
			Category: schemas.CategoryCredential,
			Metadata: map[string]string{"username": "da", "target": "10.0.0.9", "source": "10.0.0.1"},
		},
	})

	assert.True(t, g.HasEdge("cred:cred-da", "host:10.0.0.9", EdgeAuthAccess))

	// Access edges come from metadata hosts only; free-text IPs are a
	// fallback for notes with no metadata at all.
	_, ok := g.GetNode("host:10.0.0.77")
	assert.False(t, ok)
	assert.False(t, g.HasEdge("cred:cred-da", "host:10.0.0.77", EdgeAuthAccess))
}
