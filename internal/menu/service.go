package menu

import (
	"context"
	"strings"

	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

// RepositoryPort defines data access methods for menu nodes.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	All(ctx context.Context) ([]Node, error)
}

// Service owns every mutation of the menu forest. Structural changes take
// the tree lock first and validate against the locked snapshot.
type Service struct {
	repo   RepositoryPort
	events shared.Publisher
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, events shared.Publisher) *Service {
	return &Service{repo: repo, events: shared.PublisherOrNop(events)}
}

// AllFlat returns every node ordered by (order, id).
func (s *Service) AllFlat(ctx context.Context) ([]Node, error) {
	flat, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewForest(flat).Flat(), nil
}

// RootsWithChildren returns the nested forest with siblings sorted by
// (order, id).
func (s *Service) RootsWithChildren(ctx context.Context) ([]*Node, error) {
	flat, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewForest(flat).Roots(), nil
}

// Get returns one node without children.
func (s *Service) Get(ctx context.Context, id int64) (Node, error) {
	flat, err := s.repo.All(ctx)
	if err != nil {
		return Node{}, err
	}
	n, ok := NewForest(flat).Get(id)
	if !ok {
		return Node{}, ErrNotFound
	}
	return n, nil
}

// Create adds a node under an existing parent, or as a root.
func (s *Service) Create(ctx context.Context, input Input) (Node, error) {
	node, err := nodeFromInput(input)
	if err != nil {
		return Node{}, err
	}
	var created Node
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		forest, err := lockedForest(ctx, tx)
		if err != nil {
			return err
		}
		if node.ParentID != nil {
			if _, ok := forest.Get(*node.ParentID); !ok {
				return ErrParentNotFound
			}
		}
		if input.Order == nil {
			node.Order = forest.NextOrder(node.ParentID)
			if !orderInRange(node.Order) {
				return ErrOrderOutOfRange
			}
		}
		created, err = tx.Insert(ctx, node)
		return err
	})
	if err != nil {
		return Node{}, err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityMenuNode, ActionCreated, created.ID, nodeMeta(created)))
	return created, nil
}

// Update replaces the fields of a node. Moving it under itself or any of its
// descendants fails with ErrCyclicParent.
func (s *Service) Update(ctx context.Context, id int64, input Input) (Node, error) {
	node, err := nodeFromInput(input)
	if err != nil {
		return Node{}, err
	}
	node.ID = id
	var updated Node
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		forest, err := lockedForest(ctx, tx)
		if err != nil {
			return err
		}
		current, ok := forest.Get(id)
		if !ok {
			return ErrNotFound
		}
		if err := forest.CheckReparent(id, node.ParentID); err != nil {
			return err
		}
		if input.Order == nil {
			node.Order = current.Order
		}
		updated, err = tx.Update(ctx, node)
		return err
	})
	if err != nil {
		return Node{}, err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityMenuNode, ActionUpdated, updated.ID, nodeMeta(updated)))
	return updated, nil
}

// Delete removes a node together with all of its descendants.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var removed []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		forest, err := lockedForest(ctx, tx)
		if err != nil {
			return err
		}
		if _, ok := forest.Get(id); !ok {
			return ErrNotFound
		}
		removed = forest.Descendants(id)
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.events.Publish(ctx, shared.NewEvent(shared.EntityMenuNode, ActionDeleted, id, map[string]any{
		"descendants_deleted": removed,
	}))
	return nil
}

// Reorder applies a drag-and-drop tree description atomically. Listed nodes
// take the order from the payload and the parent implied by nesting; nodes
// left out keep their placement.
func (s *Service) Reorder(ctx context.Context, items []ReorderItem) error {
	var moved int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		forest, err := lockedForest(ctx, tx)
		if err != nil {
			return err
		}
		plan, err := forest.PlanReorder(items)
		if err != nil {
			return err
		}
		moved = len(plan)
		return tx.Place(ctx, plan)
	})
	if err != nil {
		return err
	}
	s.events.Publish(ctx, shared.Event{
		Entity:   shared.EntityMenuNode,
		Action:   ActionReordered,
		EntityID: "*",
		Meta:     map[string]any{"nodes": moved},
	})
	return nil
}

func lockedForest(ctx context.Context, tx TxRepository) (*Forest, error) {
	if err := tx.LockTree(ctx); err != nil {
		return nil, err
	}
	flat, err := tx.All(ctx)
	if err != nil {
		return nil, err
	}
	return NewForest(flat), nil
}

func nodeFromInput(input Input) (Node, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return Node{}, ErrTitleRequired
	}
	n := Node{
		Title:      title,
		Route:      optional(input.Route),
		Icon:       optional(input.Icon),
		Permission: optional(input.Permission),
		ParentID:   input.ParentID,
	}
	if input.Order != nil {
		if !orderInRange(*input.Order) {
			return Node{}, ErrOrderOutOfRange
		}
		n.Order = *input.Order
	}
	return n, nil
}

func nodeMeta(n Node) map[string]any {
	meta := map[string]any{"title": n.Title, "order": n.Order}
	if n.ParentID != nil {
		meta["parent_id"] = *n.ParentID
	}
	if n.Permission != nil {
		meta["permission"] = *n.Permission
	}
	return meta
}
