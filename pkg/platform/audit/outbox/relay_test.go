package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"spendwise/pkg/platform/audit/store/postgres"
	"spendwise/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeSource struct {
	mu        sync.Mutex
	entries   []postgres.OutboxEntry
	published map[uuid.UUID]bool
}

func (s *fakeSource) FetchUnpublished(_ context.Context, limit int) ([]postgres.OutboxEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []postgres.OutboxEntry
	for _, e := range s.entries {
		if !s.published[e.ID] && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeSource) MarkPublished(_ context.Context, ids []uuid.UUID, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.published[id] = true
	}
	return nil
}

type fakeProducer struct {
	records []*kgo.Record
	err     error
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if p.err == nil {
			p.records = append(p.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

func newSource(n int) *fakeSource {
	s := &fakeSource{published: map[uuid.UUID]bool{}}
	for i := range n {
		s.entries = append(s.entries, postgres.OutboxEntry{
			ID:          uuid.New(),
			AggregateID: "user-1",
			EventType:   "bucket_spend",
			Payload:     []byte{byte('0' + i)},
		})
	}
	return s
}

func TestRelay_PublishesAndMarks(t *testing.T) {
	source := newSource(3)
	producer := &fakeProducer{}
	relay := New(source, producer, tx.JournalRunner{}, "ledger-events", WithBatchSize(2))

	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, producer.records, 3)
	for i, rec := range producer.records {
		assert.Equal(t, "ledger-events", rec.Topic)
		assert.Equal(t, []byte("user-1"), rec.Key)
		assert.Equal(t, source.entries[i].Payload, rec.Value)
	}

	n, err = relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRelay_ProduceFailureLeavesRowsPending(t *testing.T) {
	source := newSource(2)
	producer := &fakeProducer{err: errors.New("broker down")}
	relay := New(source, producer, tx.JournalRunner{}, "ledger-events")

	_, err := relay.RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, source.published)

	producer.err = nil
	n, err := relay.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
