package domain

import (
	"fmt"
	"sort"
)

// FeatureNode is a root feature with its direct children, both ordered by
// OrderIndex. Grandchildren are not modeled.
type FeatureNode struct {
	Feature  Feature
	Children []Feature
}

// BuildFeatureTree partitions a flat feature list into ordered roots, each
// carrying its ordered children. Features whose parent is not a root in the
// list are left out; see ValidateFeatureParents. Children embedded by the
// backend are folded into the flat list first.
func BuildFeatureTree(features []Feature) []FeatureNode {
	var roots []Feature
	byParent := make(map[int64][]Feature)
	for _, f := range flatten(features) {
		if f.ParentFeatureID == nil {
			roots = append(roots, f)
			continue
		}
		byParent[*f.ParentFeatureID] = append(byParent[*f.ParentFeatureID], f)
	}

	sortByOrder(roots)

	nodes := make([]FeatureNode, 0, len(roots))
	for _, r := range roots {
		children := byParent[r.ID]
		sortByOrder(children)
		if children == nil {
			children = []Feature{}
		}
		nodes = append(nodes, FeatureNode{Feature: r, Children: children})
	}
	return nodes
}

func flatten(features []Feature) []Feature {
	seen := make(map[int64]bool, len(features))
	out := make([]Feature, 0, len(features))
	var walk func(fs []Feature, parent *int64)
	walk = func(fs []Feature, parent *int64) {
		for _, f := range fs {
			nested := f.Children
			f.Children = nil
			if f.ParentFeatureID == nil && parent != nil {
				pid := *parent
				f.ParentFeatureID = &pid
			}
			if !seen[f.ID] {
				seen[f.ID] = true
				out = append(out, f)
			}
			id := f.ID
			walk(nested, &id)
		}
	}
	walk(features, nil)
	return out
}

func sortByOrder(fs []Feature) {
	sort.SliceStable(fs, func(i, j int) bool { return fs[i].OrderIndex < fs[j].OrderIndex })
}

// Label is the accordion number of a root, e.g. "2".
func (n FeatureNode) Label() string {
	return fmt.Sprintf("%d", n.Feature.OrderIndex)
}

// ChildLabel numbers a child under its root, e.g. "2.1".
func (n FeatureNode) ChildLabel(child Feature) string {
	return fmt.Sprintf("%d.%d", n.Feature.OrderIndex, child.OrderIndex)
}

// ValidateFeatureParents returns an error naming every feature whose parent
// id does not reference a feature of the same app in the list.
func ValidateFeatureParents(features []Feature) error {
	byID := make(map[int64]Feature, len(features))
	for _, f := range features {
		byID[f.ID] = f
	}
	var orphans []int64
	for _, f := range features {
		if f.ParentFeatureID == nil {
			continue
		}
		p, ok := byID[*f.ParentFeatureID]
		if !ok || p.ProjectAppID != f.ProjectAppID {
			orphans = append(orphans, f.ID)
		}
	}
	if len(orphans) > 0 {
		return fmt.Errorf("features %v reference a parent outside their app", orphans)
	}
	return nil
}
