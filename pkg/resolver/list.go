// pkg/resolver/list.go
package resolver

import (
	"errors"

	"go.uber.org/zap"

	"github.com/cataloghub/feed-cleanse/pkg/model"
	"github.com/cataloghub/feed-cleanse/pkg/refdata"
)

// List resolves raw id/label pairs to controlled-vocabulary entries via
// the attribute-source mapping.
type List struct {
	store  *refdata.Store
	logger *zap.Logger
}

// NewList creates a list resolver over the run's cache.
func NewList(store *refdata.Store, logger *zap.Logger) (*List, error) {
	if store == nil {
		return nil, errors.New("reference data store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &List{store: store, logger: logger}, nil
}

// Resolve maps the source pair to a vocabulary item. mapped=false means
// no attribute-source mapping exists (hard failure); mapped=true with a
// nil item means the mapping points at a missing item (soft failure).
func (l *List) Resolve(pol model.CleansePolicy, groupCompanyCd, sourceID, sourceLabel string) (*model.ListItem, bool) {
	itemID, ok := l.lookupItemID(pol, groupCompanyCd, sourceID, sourceLabel)
	if !ok {
		return nil, false
	}

	item, ok := l.store.ListItem(itemID)
	if !ok {
		l.logger.Debug("List source mapping points at missing item",
			zap.String("attr_cd", pol.AttrCd),
			zap.String("item_id", itemID))
		return nil, true
	}
	return &item, true
}

// lookupItemID picks the mapping dimension the policy's matcher asks for.
func (l *List) lookupItemID(pol model.CleansePolicy, groupCompanyCd, sourceID, sourceLabel string) (string, bool) {
	switch pol.MatcherKind {
	case model.MatcherLabelExact:
		return l.store.ListItemIDByLabel(pol.AttrCd, groupCompanyCd, sourceLabel)
	case model.MatcherDeriveFromGP:
		// Group-company-derived: id first, label as fallback.
		if id, ok := l.store.ListItemIDByID(pol.AttrCd, groupCompanyCd, sourceID); ok {
			return id, true
		}
		return l.store.ListItemIDByLabel(pol.AttrCd, groupCompanyCd, sourceLabel)
	default:
		return l.store.ListItemIDByID(pol.AttrCd, groupCompanyCd, sourceID)
	}
}
