package relationship

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"flockbridge.io/flockbridge/internal/domain"
	"flockbridge.io/flockbridge/internal/pkg/logger"
	"flockbridge.io/flockbridge/internal/transform"
)

// Metadata keys recorded on every edge.
const (
	MetaRelationshipKey = "relationship_key"
	MetaSource          = "source"
)

// Links resolves provider ids to internal ids within one adapter.
type Links interface {
	ResolveIDs(ctx context.Context, orgID string, externalIDs []string) (map[string]domain.ExternalLink, error)
	EnsureLinks(ctx context.Context, orgID string, placeholders []domain.LinkCandidate) (map[string]domain.ExternalLink, error)
}

// Extractor turns the relationships of a batch of entities into edges.
type Extractor struct {
	types *transform.Registry
	links Links
	now   func() time.Time
}

// NewExtractor creates an Extractor.
func NewExtractor(types *transform.Registry, links Links) *Extractor {
	return &Extractor{types: types, links: links, now: time.Now}
}

type reference struct {
	entity     domain.ExternalEntity
	sourceDef  *transform.TypeDefinition
	key        string
	targetID   string
	targetType string
}

// Extract resolves every relationship reference in entities, creating
// placeholder links for referenced entities not seen yet, and returns the
// deduplicated edge list in a stable order.
func (x *Extractor) Extract(ctx context.Context, orgID string, entities []domain.ExternalEntity) ([]domain.Edge, error) {
	refs := x.collect(entities)
	if len(refs) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(refs)*2)
	seen := make(map[string]struct{}, len(refs)*2)
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, r := range refs {
		add(r.entity.ID)
		add(r.targetID)
	}

	resolved, err := x.links.ResolveIDs(ctx, orgID, ids)
	if err != nil {
		return nil, err
	}

	var placeholders []domain.LinkCandidate
	pending := make(map[string]struct{})
	for _, r := range refs {
		if _, ok := resolved[r.targetID]; ok {
			continue
		}
		if _, ok := pending[r.targetID]; ok {
			continue
		}
		targetDef, err := x.types.Lookup(r.targetType)
		if err != nil {
			continue
		}
		pending[r.targetID] = struct{}{}
		placeholders = append(placeholders, domain.LinkCandidate{
			ExternalID: r.targetID,
			EntityType: targetDef.Name,
			Tag:        targetDef.Tag,
		})
	}
	if len(placeholders) > 0 {
		created, err := x.links.EnsureLinks(ctx, orgID, placeholders)
		if err != nil {
			return nil, err
		}
		for id, l := range created {
			resolved[id] = l
		}
	}

	now := x.now().UTC()
	byKey := make(map[domain.EdgeKey]domain.Edge, len(refs))
	for _, r := range refs {
		src, ok := resolved[r.entity.ID]
		if !ok {
			// The entity itself failed to link earlier in the batch.
			continue
		}
		tgt, ok := resolved[r.targetID]
		if !ok {
			continue
		}
		srcTag := tagOf(x.types, src, r.sourceDef.Tag)
		tgtTag := tagOf(x.types, tgt, "")
		if tgtTag == "" {
			continue
		}

		edge := buildEdge(orgID, x.types.Source(), r.key, src.EntityID, srcTag, tgt.EntityID, tgtTag, now)
		byKey[edge.Key()] = edge
	}

	edges := make([]domain.Edge, 0, len(byKey))
	for _, e := range byKey {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.SourceEntityID != b.SourceEntityID {
			return a.SourceEntityID < b.SourceEntityID
		}
		if a.TargetEntityID != b.TargetEntityID {
			return a.TargetEntityID < b.TargetEntityID
		}
		return a.RelationshipType < b.RelationshipType
	})
	return edges, nil
}

// collect walks declared relationship keys of every entity.
func (x *Extractor) collect(entities []domain.ExternalEntity) []reference {
	var refs []reference
	for _, e := range entities {
		def, err := x.types.Lookup(e.Type)
		if err != nil || len(def.Relationships) == 0 || len(e.Relationships) == 0 {
			continue
		}
		for _, decl := range def.Relationships {
			ref, ok := e.Relationships[decl.Key]
			if !ok {
				continue
			}
			for _, ri := range ref.Data.Identifiers() {
				targetType := decl.TargetType
				if targetType == "" {
					// Best effort: trust the type literal carried by the reference.
					targetType = ri.Type
					logger.Debug("Relationship target type inferred from reference",
						zap.String("entity_type", e.Type),
						zap.String("relationship_key", decl.Key),
						zap.String("target_type", targetType),
					)
				}
				if targetType == "" {
					logger.Warn("Relationship target type unknown, dropping reference",
						zap.String("entity_type", e.Type),
						zap.String("entity_id", e.ID),
						zap.String("relationship_key", decl.Key),
					)
					continue
				}
				if _, err := x.types.Lookup(targetType); err != nil {
					logger.Warn("Relationship target type not registered, dropping reference",
						zap.String("entity_type", e.Type),
						zap.String("entity_id", e.ID),
						zap.String("relationship_key", decl.Key),
						zap.String("target_type", targetType),
					)
					continue
				}
				refs = append(refs, reference{
					entity:     e,
					sourceDef:  def,
					key:        decl.Key,
					targetID:   ri.ID,
					targetType: targetType,
				})
			}
		}
	}
	return refs
}

func tagOf(types *transform.Registry, l domain.ExternalLink, fallback string) string {
	if def, err := types.Lookup(l.EntityType); err == nil {
		return def.Tag
	}
	return fallback
}

// buildEdge orients the pair and names the relationship from the oriented tags.
func buildEdge(orgID, source, key, aID, aTag, bID, bTag string, now time.Time) domain.Edge {
	srcID, tgtID := Orient(aID, bID)
	srcTag, tgtTag := aTag, bTag
	if srcID != aID {
		srcTag, tgtTag = bTag, aTag
	}
	return domain.Edge{
		OrgID:               orgID,
		SourceEntityID:      srcID,
		TargetEntityID:      tgtID,
		SourceEntityTypeTag: srcTag,
		TargetEntityTypeTag: tgtTag,
		RelationshipType:    RelationshipType(srcTag, key, tgtTag),
		Metadata: map[string]any{
			MetaRelationshipKey: key,
			MetaSource:          source,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Pairs returns the distinct (source tag, target tag) pairs of edges, sorted.
func Pairs(edges []domain.Edge) []domain.TypePair {
	seen := make(map[domain.TypePair]struct{}, len(edges))
	var out []domain.TypePair
	for _, e := range edges {
		p := domain.TypePair{SourceEntityType: e.SourceEntityTypeTag, TargetEntityType: e.TargetEntityTypeTag}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SourceEntityType != out[j].SourceEntityType {
			return out[i].SourceEntityType < out[j].SourceEntityType
		}
		return out[i].TargetEntityType < out[j].TargetEntityType
	})
	return out
}
