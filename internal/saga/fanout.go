package saga

import (
	"context"
	"sync"

	"github.com/mokshitha-y/todosaas/internal/models"
)

// fanOut iterates all active tenants concurrently, bounded by the runner's
// fan-out limit. Each tenant's work runs in isolation: a failure is logged
// to that tenant's orchestration log and recorded as a warning without
// aborting the other tenants. Results merge under the tenant's schema name.
func (s *run) fanOut(ctx context.Context, work func(ctx context.Context, tenant *models.Tenant) (map[string]any, error)) error {
	r := s.r

	tenants, err := r.stores.Tenants.ListActive(ctx)
	if err != nil {
		s.fail(ctx, "list_tenants", err)
		return err
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		sem      = make(chan struct{}, r.fanoutLimit)
		outcomes = make(map[string]any, len(tenants))
		failed   int
	)

	for _, tenant := range tenants {
		wg.Add(1)
		sem <- struct{}{}
		go func(tenant *models.Tenant) {
			defer wg.Done()
			defer func() { <-sem }()

			s.partitionLog(ctx, tenant.SchemaName, models.AuditStarted, nil)

			detail, err := work(ctx, tenant)
			if err != nil {
				s.log(ctx).Warn().Err(err).
					Str("tenant_schema", tenant.SchemaName).
					Msg("Fan-out tenant iteration failed")
				s.partitionLog(ctx, tenant.SchemaName, models.AuditFailed,
					map[string]any{"error": err.Error()})

				mu.Lock()
				outcomes[tenant.SchemaName] = map[string]any{"status": "failed", "error": err.Error()}
				failed++
				mu.Unlock()
				return
			}

			s.partitionLog(ctx, tenant.SchemaName, models.AuditCompleted, detail)

			mu.Lock()
			outcomes[tenant.SchemaName] = detail
			mu.Unlock()
		}(tenant)
	}
	wg.Wait()

	if failed > 0 {
		s.result.warn("some tenants failed, see per-tenant outcomes")
	}
	s.result.detail("tenants", outcomes)
	s.result.detail("tenant_count", len(tenants))
	s.result.detail("failed_count", failed)
	return nil
}
