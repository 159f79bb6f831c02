package menu

import (
	"context"

	"github.com/odyssey-erp/odyssey-admin/internal/rbac"
)

// TreeSource supplies the full nested forest.
type TreeSource interface {
	RootsWithChildren(ctx context.Context) ([]*Node, error)
}

// Builder projects the menu forest onto what a subject may see.
type Builder struct {
	source TreeSource
	authz  *rbac.Authorizer
}

// NewBuilder constructs a Builder.
func NewBuilder(source TreeSource, authz *rbac.Authorizer) *Builder {
	if authz == nil {
		authz = rbac.NewAuthorizer()
	}
	return &Builder{source: source, authz: authz}
}

// Build returns the navigation visible to subject. Guests get an empty list.
func (b *Builder) Build(ctx context.Context, subject rbac.Subject) ([]*Node, error) {
	if subject == nil || subject.SubjectID() == 0 {
		return []*Node{}, nil
	}
	return b.BuildWithGrants(ctx, b.authz.Grants(subject))
}

// BuildWithGrants is Build for grants resolved earlier in the request.
func (b *Builder) BuildWithGrants(ctx context.Context, grants rbac.Grants) ([]*Node, error) {
	roots, err := b.source.RootsWithChildren(ctx)
	if err != nil {
		return nil, err
	}
	return Prune(roots, grants), nil
}

// Prune filters parent first: a node hidden from grants is dropped with its
// whole subtree, even when some descendant would be visible on its own.
// Sibling order is kept. The input is not modified.
func Prune(nodes []*Node, grants rbac.Grants) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Permission != nil && !grants.Can(*n.Permission) {
			continue
		}
		visible := *n
		visible.Children = nil
		if len(n.Children) > 0 {
			visible.Children = Prune(n.Children, grants)
		}
		out = append(out, &visible)
	}
	return out
}
