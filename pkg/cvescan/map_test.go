package cvescan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigilsec/vigil/pkg/types"
)

func TestMatchesFlatIndex(t *testing.T) {
	m := NewMap([]*types.CVEItem{
		{Name: "CVE-2023-0002", Severity: 5.0, Products: []string{"cpe:/a:example:bar:2.0"}},
		{Name: "CVE-2023-0001", Severity: 7.5, Products: []string{"cpe:/a:example:foo:1.2.3"}},
		{Name: "CVE-2023-0003", Severity: 9.8, Products: []string{"cpe:/a:other:baz:3.1"}},
	})
	require.Equal(t, 3, m.Len())

	matches := m.Matches([]string{"cpe:/a:example:foo:1.2.3", "cpe:/a:example:bar:2.0"})
	require.Len(t, matches, 2)

	// Ordered by CVE name regardless of input order.
	assert.Equal(t, "CVE-2023-0001", matches[0].CVE.Name)
	assert.Equal(t, "cpe:/a:example:foo:1.2.3", matches[0].Product)
	assert.Equal(t, "CVE-2023-0002", matches[1].CVE.Name)
	assert.Equal(t, "cpe:/a:example:bar:2.0", matches[1].Product)
}

func TestMatchesDedupesByCVE(t *testing.T) {
	m := NewMap([]*types.CVEItem{
		{Name: "CVE-2023-0001", Products: []string{"cpe:/a:example:foo:1.2.3", "cpe:/a:example:foo:1.2.4"}},
	})

	matches := m.Matches([]string{"cpe:/a:example:foo:1.2.3", "cpe:/a:example:foo:1.2.4"})
	require.Len(t, matches, 1)
	assert.Equal(t, "CVE-2023-0001", matches[0].CVE.Name)
}

func TestMatchesAndTree(t *testing.T) {
	m := NewMap([]*types.CVEItem{
		{
			Name: "CVE-2023-0100",
			Match: &types.CPEMatchNode{
				Operator: "AND",
				CPEs:     []string{"cpe:/a:example:app:1.0", "cpe:/o:example:os:12"},
			},
		},
	})

	assert.Empty(t, m.Matches([]string{"cpe:/a:example:app:1.0"}))
	matches := m.Matches([]string{"cpe:/a:example:app:1.0", "cpe:/o:example:os:12"})
	require.Len(t, matches, 1)
	assert.Equal(t, "CVE-2023-0100", matches[0].CVE.Name)
	assert.Empty(t, matches[0].Product, "tree matches carry no single triggering product")
}

func TestMatchesOrTree(t *testing.T) {
	m := NewMap([]*types.CVEItem{
		{
			Name: "CVE-2023-0200",
			Match: &types.CPEMatchNode{
				Operator: "OR",
				Children: []*types.CPEMatchNode{
					{Operator: "AND", CPEs: []string{"cpe:/a:vendor:x:1"}},
					{Operator: "AND", CPEs: []string{"cpe:/a:vendor:x:2"}},
				},
			},
		},
	})

	require.Len(t, m.Matches([]string{"cpe:/a:vendor:x:2"}), 1)
	assert.Empty(t, m.Matches([]string{"cpe:/a:vendor:x:3"}))
}

func TestEmptyAndNodeNeverMatches(t *testing.T) {
	m := NewMap([]*types.CVEItem{
		{Name: "CVE-2023-0300", Match: &types.CPEMatchNode{Operator: "AND"}},
	})
	assert.Empty(t, m.Matches([]string{"cpe:/a:any:thing:1"}))
}

func TestExpandHosts(t *testing.T) {
	tests := []struct {
		name    string
		hosts   string
		exclude string
		want    []string
	}{
		{
			name:  "plain list",
			hosts: "10.0.0.1,10.0.0.2",
			want:  []string{"10.0.0.1", "10.0.0.2"},
		},
		{
			name:  "whitespace and empties",
			hosts: " 10.0.0.1 , ,10.0.0.2,",
			want:  []string{"10.0.0.1", "10.0.0.2"},
		},
		{
			name:    "excluded host dropped",
			hosts:   "10.0.0.1,10.0.0.2,10.0.0.3",
			exclude: "10.0.0.2",
			want:    []string{"10.0.0.1", "10.0.0.3"},
		},
		{
			name:    "everything excluded",
			hosts:   "10.0.0.1",
			exclude: "10.0.0.1",
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandHosts(tt.hosts, tt.exclude))
		})
	}
}
