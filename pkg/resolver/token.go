// pkg/resolver/token.go
package resolver

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/cataloghub/feed-cleanse/pkg/model"
	"github.com/cataloghub/feed-cleanse/pkg/refdata"
)

// Token splits a composite raw value into discrete normalized values via
// the token-route dictionary.
type Token struct {
	store  *refdata.Store
	logger *zap.Logger
}

// Expansion is the outcome of tokenizing one composite value.
type Expansion struct {
	Matches   []model.TokenRoute
	Unmatched []string
}

// NewToken creates a token expander over the run's cache.
func NewToken(store *refdata.Store, logger *zap.Logger) (*Token, error) {
	if store == nil {
		return nil, errors.New("reference data store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Token{store: store, logger: logger}, nil
}

// tokenDelimiters split composite feed values like "18K WG/SS" or
// "RED,BLUE" into candidate tokens.
var tokenDelimiters = func(r rune) bool {
	switch r {
	case '/', ',', '+', '&', '・', '、', ';', ' ', '\t', '　':
		return true
	}
	return false
}

// Expand tokenizes the raw value and resolves each token against the
// dictionary, restricted to routes applicable under the group company and
// resolved scope. The most specific applicable route wins per token.
// Duplicate value codes are collapsed.
func (t *Token) Expand(groupCompanyCd string, scope model.Scope, raw string) Expansion {
	var exp Expansion

	seen := make(map[string]bool)
	for _, token := range strings.FieldsFunc(raw, tokenDelimiters) {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}

		route, ok := t.bestRoute(token, groupCompanyCd, scope)
		if !ok {
			exp.Unmatched = append(exp.Unmatched, token)
			continue
		}
		if seen[route.ValueCd] {
			continue
		}
		seen[route.ValueCd] = true
		exp.Matches = append(exp.Matches, route)
	}

	t.logger.Debug("Token expansion",
		zap.String("raw", raw),
		zap.Int("matched", len(exp.Matches)),
		zap.Int("unmatched", len(exp.Unmatched)))
	return exp
}

// bestRoute picks the most specific applicable route for a token.
func (t *Token) bestRoute(token, groupCompanyCd string, scope model.Scope) (model.TokenRoute, bool) {
	var best model.TokenRoute
	bestRank := -1

	for _, route := range t.store.RoutesForToken(token) {
		if !route.AppliesTo(groupCompanyCd, scope) {
			continue
		}
		if rank := route.Specificity(); rank > bestRank {
			best = route
			bestRank = rank
		}
	}

	return best, bestRank >= 0
}
