package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"fleet_server/internal/domain"
)

// MemoryClientRepository keeps records in process memory. Records are copied in
// and out so callers never share mutable state with the store.
type MemoryClientRepository struct {
	mu      sync.RWMutex
	records map[string]domain.ClientRecord
}

func NewMemoryClientRepository() *MemoryClientRepository {
	return &MemoryClientRepository{
		records: make(map[string]domain.ClientRecord),
	}
}

func (r *MemoryClientRepository) GetClient(_ context.Context, identity string) (domain.ClientRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.records[identity]
	if !ok {
		return domain.ClientRecord{}, domain.ErrClientNotFound
	}
	return cloneRecord(record), nil
}

func (r *MemoryClientRepository) CreateClient(_ context.Context, record domain.ClientRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.Identity]; exists {
		return false, nil
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now
	r.records[record.Identity] = cloneRecord(record)
	return true, nil
}

func (r *MemoryClientRepository) SaveClient(_ context.Context, record domain.ClientRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[record.Identity]
	if !ok {
		return domain.ErrClientNotFound
	}
	record.CreatedAt = existing.CreatedAt
	record.UpdatedAt = time.Now().UTC()
	r.records[record.Identity] = cloneRecord(record)
	return nil
}

func (r *MemoryClientRepository) ListClients(_ context.Context) ([]domain.ClientRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ClientRecord, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, cloneRecord(record))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Identity < out[j].Identity
	})
	return out, nil
}

func (r *MemoryClientRepository) MarkAllDisconnected(_ context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var count int64
	for identity, record := range r.records {
		if record.ConnectionStatus == domain.ConnectionDisconnected && record.LiveConnectionID == "" {
			continue
		}
		record.ConnectionStatus = domain.ConnectionDisconnected
		record.LiveConnectionID = ""
		record.UpdatedAt = time.Now().UTC()
		r.records[identity] = record
		count++
	}
	return count, nil
}

func cloneRecord(record domain.ClientRecord) domain.ClientRecord {
	out := record
	out.Metrics = domain.ClientMetrics{
		TotalBalance:      copyFloat(record.Metrics.TotalBalance),
		CurrentProfitRate: copyFloat(record.Metrics.CurrentProfitRate),
		UnrealizedPnl:     copyFloat(record.Metrics.UnrealizedPnl),
		CurrentTotalAsset: copyFloat(record.Metrics.CurrentTotalAsset),
	}
	if record.LastPayload != nil {
		out.LastPayload = append([]byte(nil), record.LastPayload...)
	}
	return out
}
