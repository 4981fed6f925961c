package oauth

import (
	"context"
	"time"

	"github.com/lumenweb/grantd/logging"
	"github.com/lumenweb/grantd/storage"
)

// RunPurger deletes expired authorization codes every `oauth.purgeInterval`
// until ctx is done. It returns immediately when purging is disabled or the
// store expires codes on its own.
func (p *OAuthPlugin) RunPurger(ctx context.Context) error {
	purger, ok := p.store.(storage.Purger)
	if !ok || p.purgeInterval <= 0 {
		logging.Debugw(ctx, "oauth: code purger not running", "interval", p.purgeInterval, "supported", ok)
		return nil
	}

	ticker := time.NewTicker(p.purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.purge(ctx, purger)
		}
	}
}

// PurgeExpiredCodes runs a single purge pass.
func (p *OAuthPlugin) PurgeExpiredCodes(ctx context.Context) (int64, error) {
	purger, ok := p.store.(storage.Purger)
	if !ok {
		return 0, nil
	}
	return p.purge(ctx, purger)
}

func (p *OAuthPlugin) purge(ctx context.Context, purger storage.Purger) (int64, error) {
	n, err := purger.PurgeExpiredCodes(ctx, p.now())
	if err != nil {
		logging.Errorw(ctx, "oauth: purging expired codes", "error", err)
		return 0, err
	}
	if n > 0 {
		p.metrics.codesPurged.Add(float64(n))
		logging.Infow(ctx, "oauth: purged expired codes", "count", n)
	}
	return n, nil
}
