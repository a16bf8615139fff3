package partner

import "sort"

// buildTree nests companies under their parents. Companies whose parent is unknown become roots.
func buildTree(companies []Company) []*CompanyNode {
	nodes := make(map[string]*CompanyNode, len(companies))
	for _, c := range companies {
		nodes[c.ID] = &CompanyNode{Company: c, Children: []*CompanyNode{}}
	}

	roots := make([]*CompanyNode, 0)
	for _, c := range companies {
		node := nodes[c.ID]
		if parent, ok := nodes[c.ParentID.String]; c.ParentID.Valid && ok && parent != node {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*CompanyNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

// descendants returns every company below id, breadth first.
func descendants(companies []Company, id string) []Company {
	children := make(map[string][]Company)
	for _, c := range companies {
		if c.ParentID.Valid {
			children[c.ParentID.String] = append(children[c.ParentID.String], c)
		}
	}

	seen := map[string]bool{id: true}
	result := make([]Company, 0)
	queue := []string{id}
	for len(queue) > 0 {
		curr := queue[0]
		queue = queue[1:]
		for _, child := range children[curr] {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			result = append(result, child)
			queue = append(queue, child.ID)
		}
	}
	return result
}

// ancestors returns the parent of id, its parent and so on up to the root.
func ancestors(companies []Company, id string) []Company {
	byID := make(map[string]Company, len(companies))
	for _, c := range companies {
		byID[c.ID] = c
	}

	result := make([]Company, 0)
	seen := map[string]bool{id: true}
	curr, ok := byID[id]
	for ok && curr.ParentID.Valid {
		parentID := curr.ParentID.String
		if seen[parentID] {
			break // corrupted hierarchy
		}
		seen[parentID] = true
		if curr, ok = byID[parentID]; ok {
			result = append(result, curr)
		}
	}
	return result
}
