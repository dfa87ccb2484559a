package cvescan

import (
	"sort"

	"github.com/vigilsec/vigil/pkg/types"
)

// Map is the loaded CVE correlation data. Items carrying a match tree
// are evaluated against the whole host CPE set; plain items match when
// any affected product is present.
type Map struct {
	byProduct map[string][]*types.CVEItem
	trees     []*types.CVEItem
}

// NewMap indexes CVE items for per-host matching.
func NewMap(items []*types.CVEItem) *Map {
	m := &Map{byProduct: make(map[string][]*types.CVEItem)}
	for _, item := range items {
		if item.Match != nil {
			m.trees = append(m.trees, item)
			continue
		}
		for _, p := range item.Products {
			m.byProduct[p] = append(m.byProduct[p], item)
		}
	}
	return m
}

// Len returns the number of indexed CVE items.
func (m *Map) Len() int {
	n := len(m.trees)
	seen := make(map[string]bool)
	for _, items := range m.byProduct {
		for _, item := range items {
			if !seen[item.Name] {
				seen[item.Name] = true
				n++
			}
		}
	}
	return n
}

// Match is one CVE that applies to a host. Product is the CPE that
// triggered the match; empty for match-tree hits, which may combine
// several.
type Match struct {
	CVE     *types.CVEItem
	Product string
}

// Matches returns the CVEs applying to a host with the given CPE set,
// at most one match per CVE, ordered by CVE name.
func (m *Map) Matches(hostCPEs []string) []Match {
	have := make(map[string]bool, len(hostCPEs))
	for _, cpe := range hostCPEs {
		have[cpe] = true
	}

	var out []Match
	seen := make(map[string]bool)
	for _, cpe := range hostCPEs {
		for _, item := range m.byProduct[cpe] {
			if seen[item.Name] {
				continue
			}
			seen[item.Name] = true
			out = append(out, Match{CVE: item, Product: cpe})
		}
	}
	for _, item := range m.trees {
		if seen[item.Name] {
			continue
		}
		if evalNode(item.Match, have) {
			seen[item.Name] = true
			out = append(out, Match{CVE: item})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CVE.Name < out[j].CVE.Name })
	return out
}

// evalNode walks an AND/OR match tree. An AND node requires every
// listed CPE and every child; anything else is treated as OR.
func evalNode(node *types.CPEMatchNode, have map[string]bool) bool {
	if node == nil {
		return false
	}
	if node.Operator == "AND" {
		for _, cpe := range node.CPEs {
			if !have[cpe] {
				return false
			}
		}
		for _, child := range node.Children {
			if !evalNode(child, have) {
				return false
			}
		}
		return len(node.CPEs) > 0 || len(node.Children) > 0
	}
	for _, cpe := range node.CPEs {
		if have[cpe] {
			return true
		}
	}
	for _, child := range node.Children {
		if evalNode(child, have) {
			return true
		}
	}
	return false
}
