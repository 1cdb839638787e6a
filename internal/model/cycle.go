package model

// WouldCycle reports whether attaching child under root as a derived or
// provided product would close a reference cycle.
//
// The graph is acyclic before the attach, so a cycle exists exactly when root
// is reachable from child (or is child). The walk is iterative and keeps the
// current path on an explicit stack; the returned chain is that path,
// beginning and ending with root's ID.
//
// Two products are the same node when they are the same instance or share a
// non-empty UUID. Unpersisted instances with equal business IDs are distinct.
func WouldCycle(root, child *Product) ([]string, bool) {
	if root == nil || child == nil {
		return nil, false
	}
	if sameProduct(root, child) {
		return []string{root.id, child.id}, true
	}

	type frame struct {
		product *Product
		kids    []*Product
		next    int
	}

	visited := map[*Product]struct{}{child: {}}
	stack := []frame{{product: child, kids: child.children()}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.kids) {
			stack = stack[:len(stack)-1]
			continue
		}
		next := top.kids[top.next]
		top.next++

		if sameProduct(root, next) {
			chain := make([]string, 0, len(stack)+2)
			chain = append(chain, root.id)
			for _, f := range stack {
				chain = append(chain, f.product.id)
			}
			return append(chain, next.id), true
		}
		if _, seen := visited[next]; seen {
			continue
		}
		visited[next] = struct{}{}
		stack = append(stack, frame{product: next, kids: next.children()})
	}
	return nil, false
}

func sameProduct(a, b *Product) bool {
	if a == b {
		return true
	}
	return a.uuid != "" && a.uuid == b.uuid
}
