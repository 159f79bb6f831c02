package menu

import (
	"fmt"
	"sort"
)

// maxDepth bounds both stored ancestor walks and submitted reorder payloads.
const maxDepth = 64

// Forest is an arena over the flat node set: nodes are addressed by id and
// linked only through ParentID.
type Forest struct {
	nodes    map[int64]Node
	children map[int64][]int64
	roots    []int64
}

// NewForest indexes flat nodes. Nodes whose parent is absent are treated as roots.
func NewForest(flat []Node) *Forest {
	f := &Forest{
		nodes:    make(map[int64]Node, len(flat)),
		children: make(map[int64][]int64),
	}
	for _, n := range flat {
		n.Children = nil
		f.nodes[n.ID] = n
	}
	for _, n := range flat {
		if n.ParentID != nil {
			if _, ok := f.nodes[*n.ParentID]; ok {
				f.children[*n.ParentID] = append(f.children[*n.ParentID], n.ID)
				continue
			}
		}
		f.roots = append(f.roots, n.ID)
	}
	f.sortSiblings(f.roots)
	for _, ids := range f.children {
		f.sortSiblings(ids)
	}
	return f
}

// Len returns the number of nodes.
func (f *Forest) Len() int {
	return len(f.nodes)
}

// Get returns the node with id.
func (f *Forest) Get(id int64) (Node, bool) {
	n, ok := f.nodes[id]
	return n, ok
}

// Ancestors walks from id's parent up to a root and returns the visited ids,
// nearest first. A loop in stored data yields ErrCyclicParent.
func (f *Forest) Ancestors(id int64) ([]int64, error) {
	n, ok := f.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	var chain []int64
	seen := map[int64]struct{}{id: {}}
	for n.ParentID != nil {
		parentID := *n.ParentID
		if _, loop := seen[parentID]; loop {
			return chain, ErrCyclicParent
		}
		parent, ok := f.nodes[parentID]
		if !ok {
			break
		}
		seen[parentID] = struct{}{}
		chain = append(chain, parentID)
		n = parent
	}
	return chain, nil
}

// CheckReparent validates moving id under parentID. A nil parent makes the
// node a root. The proposed parent's full ancestor chain is walked and must
// not contain id.
func (f *Forest) CheckReparent(id int64, parentID *int64) error {
	if parentID == nil {
		return nil
	}
	if *parentID == id {
		return ErrCyclicParent
	}
	if _, ok := f.nodes[*parentID]; !ok {
		return ErrParentNotFound
	}
	chain, err := f.Ancestors(*parentID)
	if err != nil {
		return err
	}
	for _, ancestor := range chain {
		if ancestor == id {
			return ErrCyclicParent
		}
	}
	return nil
}

// Descendants returns every node below id, parents before children.
func (f *Forest) Descendants(id int64) []int64 {
	var out []int64
	queue := append([]int64(nil), f.children[id]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		out = append(out, next)
		queue = append(queue, f.children[next]...)
	}
	return out
}

// NextOrder returns the order placing a new node after the last child of parentID.
func (f *Forest) NextOrder(parentID *int64) int {
	siblings := f.roots
	if parentID != nil {
		siblings = f.children[*parentID]
	}
	if len(siblings) == 0 {
		return 0
	}
	return f.nodes[siblings[len(siblings)-1]].Order + 1
}

// Flat returns the nodes ordered by (order, id).
func (f *Forest) Flat() []Node {
	out := make([]Node, 0, len(f.nodes))
	for _, n := range f.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Roots materialises the nested projection. Siblings are sorted by order
// ascending, ties broken by id. Each call returns fresh nodes.
func (f *Forest) Roots() []*Node {
	out := make([]*Node, 0, len(f.roots))
	for _, id := range f.roots {
		out = append(out, f.materialise(id, 0))
	}
	return out
}

func (f *Forest) materialise(id int64, depth int) *Node {
	n := f.nodes[id]
	node := &n
	if depth >= maxDepth {
		return node
	}
	for _, childID := range f.children[id] {
		node.Children = append(node.Children, f.materialise(childID, depth+1))
	}
	return node
}

// PlanReorder turns a submitted tree into placements. Every listed id must
// exist and appear once, and the resulting parent links, merged with the
// nodes left out of the payload, must stay acyclic. Nothing is applied here.
func (f *Forest) PlanReorder(items []ReorderItem) ([]Placement, error) {
	var plan []Placement
	seen := make(map[int64]struct{})
	var walk func(items []ReorderItem, parent *int64, depth int) error
	walk = func(items []ReorderItem, parent *int64, depth int) error {
		if depth > maxDepth {
			return fmt.Errorf("%w: nesting deeper than %d", ErrInvalidTree, maxDepth)
		}
		for _, item := range items {
			if item.ID == nil || item.Order == nil {
				return fmt.Errorf("%w: id and order are required", ErrInvalidTree)
			}
			if !orderInRange(*item.Order) {
				return fmt.Errorf("%w: order %d out of range", ErrInvalidTree, *item.Order)
			}
			id := *item.ID
			if _, ok := f.nodes[id]; !ok {
				return fmt.Errorf("%w: unknown node %d", ErrInvalidTree, id)
			}
			if _, dup := seen[id]; dup {
				return fmt.Errorf("%w: node %d listed twice", ErrInvalidTree, id)
			}
			seen[id] = struct{}{}
			var parentID *int64
			if parent != nil {
				p := *parent
				parentID = &p
			}
			plan = append(plan, Placement{ID: id, ParentID: parentID, Order: *item.Order})
			if err := walk(item.Children, &id, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(items, nil, 0); err != nil {
		return nil, err
	}

	parents := make(map[int64]*int64, len(f.nodes))
	for id, n := range f.nodes {
		parents[id] = n.ParentID
	}
	for _, p := range plan {
		parents[p.ID] = p.ParentID
	}
	for id := range parents {
		if err := terminates(parents, id); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

// terminates follows parent links from id and fails when they loop.
func terminates(parents map[int64]*int64, id int64) error {
	seen := map[int64]struct{}{id: {}}
	for cur := parents[id]; cur != nil; cur = parents[*cur] {
		if _, loop := seen[*cur]; loop {
			return fmt.Errorf("%w: node %d is its own ancestor", ErrInvalidTree, *cur)
		}
		seen[*cur] = struct{}{}
	}
	return nil
}

// Serialize describes roots in the shape accepted by PlanReorder.
func Serialize(roots []*Node) []ReorderItem {
	out := make([]ReorderItem, 0, len(roots))
	for _, n := range roots {
		id, order := n.ID, n.Order
		out = append(out, ReorderItem{ID: &id, Order: &order, Children: Serialize(n.Children)})
	}
	return out
}

func (f *Forest) sortSiblings(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return less(f.nodes[ids[i]], f.nodes[ids[j]]) })
}

func less(a, b Node) bool {
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	return a.ID < b.ID
}
