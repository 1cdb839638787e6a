package refresh

import (
	"context"
	"fmt"

	"github.com/roach88/refresher/internal/model"
)

// ContentNodeBuilder builds content nodes. Content has no children.
type ContentNodeBuilder struct {
	mapper *ContentMapper
}

// NewContentNodeBuilder returns a builder backed by mapper.
func NewContentNodeBuilder(mapper *ContentMapper) *ContentNodeBuilder {
	return &ContentNodeBuilder{mapper: mapper}
}

func (b *ContentNodeBuilder) EntityType() model.EntityType { return model.TypeContent }

// BuildNode populates the node for one content ID.
func (b *ContentNodeBuilder) BuildNode(ctx context.Context, _ *NodeFactory, owner, id string) (*EntityNode, error) {
	if !b.mapper.HasEntity(id) {
		return nil, model.NewNotFoundError(model.TypeContent, id)
	}

	node := NewEntityNode(model.TypeContent, owner, id)
	if existing, ok := b.mapper.GetExistingEntity(id); ok {
		node.SetExisting(existing)
	}
	if imported := b.mapper.ImportedContent(id); imported != nil {
		node.SetImported(imported)
	}

	candidates, err := b.mapper.GetCandidateEntities(ctx, id)
	if err != nil {
		return nil, err
	}
	node.SetCandidates(toEntities(candidates))
	return node, nil
}

// ProductNodeBuilder builds product nodes and, through the factory, the
// nodes of their derived, provided and content children.
type ProductNodeBuilder struct {
	mapper *ProductMapper
}

// NewProductNodeBuilder returns a builder backed by mapper.
func NewProductNodeBuilder(mapper *ProductMapper) *ProductNodeBuilder {
	return &ProductNodeBuilder{mapper: mapper}
}

func (b *ProductNodeBuilder) EntityType() model.EntityType { return model.TypeProduct }

// BuildNode populates the node for one product ID. Children come from the
// import when the product is imported, otherwise from the existing product.
func (b *ProductNodeBuilder) BuildNode(ctx context.Context, factory *NodeFactory, owner, id string) (*EntityNode, error) {
	if !b.mapper.HasEntity(id) {
		return nil, model.NewNotFoundError(model.TypeProduct, id)
	}

	node := NewEntityNode(model.TypeProduct, owner, id)
	existing, hasExisting := b.mapper.GetExistingEntity(id)
	if hasExisting {
		node.SetExisting(existing)
	}

	imported, err := b.mapper.ImportedProduct(id)
	if err != nil {
		return nil, err
	}
	if imported != nil {
		node.SetImported(imported)
	}

	candidates, err := b.mapper.GetCandidateEntities(ctx, id)
	if err != nil {
		return nil, err
	}
	node.SetCandidates(toEntities(candidates))

	var productIDs, contentIDs []string
	switch {
	case imported != nil:
		info := b.mapper.GetImportedEntity(id)
		productIDs = info.ChildProductIDs()
		for _, ref := range info.Content {
			contentIDs = append(contentIDs, ref.ContentID)
		}
	case hasExisting:
		productIDs, contentIDs = childIDs(existing)
	}

	for _, childID := range productIDs {
		child, err := factory.BuildNode(ctx, model.TypeProduct, childID)
		if err != nil {
			return nil, wrapChildErr(id, err)
		}
		node.AddChild(child)
	}
	for _, childID := range contentIDs {
		child, err := factory.BuildNode(ctx, model.TypeContent, childID)
		if err != nil {
			return nil, wrapChildErr(id, err)
		}
		node.AddChild(child)
	}
	return node, nil
}

func childIDs(p *model.Product) (products, contents []string) {
	if d := p.DerivedProduct(); d != nil {
		products = append(products, d.ID())
	}
	for _, pp := range p.ProvidedProducts() {
		products = append(products, pp.ID())
	}
	for _, pc := range p.ProductContent() {
		contents = append(contents, pc.Content.ID())
	}
	return products, contents
}

// wrapChildErr adds the parent to not-found errors. Cycle errors already
// carry the chain and are passed through unchanged.
func wrapChildErr(parentID string, err error) error {
	if model.IsNotFoundError(err) {
		return fmt.Errorf("product %s: %w", parentID, err)
	}
	return err
}

func toEntities[E model.Entity](in []E) []model.Entity {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Entity, len(in))
	for i, e := range in {
		out[i] = e
	}
	return out
}
