package linkrotate

import (
	"context"
	"strings"

	"github.com/groundgame/textrelay/internal/logger"
	"github.com/groundgame/textrelay/internal/metrics"
	"github.com/groundgame/textrelay/internal/repository"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// Rotator swaps rotation-eligible shortlink hostnames in outbound text for
// the organization's next healthy domain. Selection locks the chosen row with
// SKIP LOCKED, so concurrent sends land on different domain slots instead of
// waiting on each other.
type Rotator struct {
	db      *sqlx.DB
	domains repository.LinkDomainsRepository
	sources []string
	enabled bool
}

func New(db *sqlx.DB, domains repository.LinkDomainsRepository, sources []string, enabled bool) *Rotator {
	return &Rotator{db: db, domains: domains, sources: sources, enabled: enabled}
}

// Substitute replaces every occurrence of every eligible source domain in
// text with a freshly selected target domain. When rotation is disabled, the
// text carries no eligible domain, or no healthy domain exists, the text
// comes back unchanged: rotation failing must never block a send.
func (r *Rotator) Substitute(ctx context.Context, orgID int64, text string) (string, error) {
	if !r.enabled || !ContainsAny(text, r.sources) {
		return text, nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		logger.Log.Warn("link rotation: begin tx failed, sending unmodified", zap.Error(err))
		return text, nil
	}
	defer func() { _ = tx.Rollback() }()

	d, err := r.domains.SelectEligibleForUpdate(ctx, tx, orgID)
	if err != nil {
		logger.Log.Warn("link rotation: select failed, sending unmodified", zap.Error(err))
		return text, nil
	}
	if d == nil {
		// fail open
		return text, nil
	}

	if err := r.domains.Advance(ctx, tx, d); err != nil {
		logger.Log.Warn("link rotation: advance failed, sending unmodified", zap.Error(err))
		return text, nil
	}
	if err := tx.Commit(); err != nil {
		logger.Log.Warn("link rotation: commit failed, sending unmodified", zap.Error(err))
		return text, nil
	}

	metrics.LinkRotationsTotal.Inc()

	return ReplaceDomains(text, r.sources, d.Domain), nil
}

// ContainsAny reports whether any of the source domains appears in text.
func ContainsAny(text string, sources []string) bool {
	for _, s := range sources {
		if s != "" && strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// ReplaceDomains substitutes every occurrence of every source domain with
// target. The target itself counts as a source when it is in the list, which
// is a no-op by construction.
func ReplaceDomains(text string, sources []string, target string) string {
	for _, s := range sources {
		if s == "" || s == target {
			continue
		}
		text = strings.ReplaceAll(text, s, target)
	}
	return text
}
