// Package order derives the provider attempt order for one resolution from
// the catalog and the user's source preferences.
package order

import (
	"github.com/samber/lo"

	"cinefetch/internal/media"
)

// Compute returns the ids to try, in order. Catalog order is the stable
// fallback at every step, each eligible provider appears exactly once and
// disabled providers never appear.
func Compute(all []media.ProviderDescriptor, prefs media.SourcePreferences, mt media.MediaType) []string {
	eligible := lo.Uniq(lo.FilterMap(all, func(p media.ProviderDescriptor, _ int) (string, bool) {
		return p.ID, p.Supports(mt) && !prefs.IsDisabled(p.ID)
	}))

	ids := eligible
	if prefs.OrderEnabled && len(prefs.Order) > 0 {
		preferred := lo.Filter(lo.Uniq(prefs.Order), func(id string, _ int) bool {
			return lo.Contains(eligible, id)
		})
		rest := lo.Without(eligible, preferred...)
		ids = append(preferred, rest...)
	}

	if prefs.PinLastSuccessful && prefs.LastSuccessfulID != "" && lo.Contains(ids, prefs.LastSuccessfulID) {
		ids = append([]string{prefs.LastSuccessfulID}, lo.Without(ids, prefs.LastSuccessfulID)...)
	}

	return ids
}
