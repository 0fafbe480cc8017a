package session

import "sync/atomic"

// Statistics counts engine activity across every session of a Factory.
type Statistics struct {
	sessionsOpened     atomic.Int64
	sessionsClosed     atomic.Int64
	entityLoads        atomic.Int64
	entityFetches      atomic.Int64
	entityInserts      atomic.Int64
	entityUpdates      atomic.Int64
	entityDeletes      atomic.Int64
	collectionLoads    atomic.Int64
	collectionFetches  atomic.Int64
	flushes            atomic.Int64
	transactions       atomic.Int64
	commits            atomic.Int64
	optimisticFailures atomic.Int64
	queryExecutions    atomic.Int64
}

// StatisticsSnapshot is a point in time copy of Statistics.
type StatisticsSnapshot struct {
	SessionsOpened     int64
	SessionsClosed     int64
	EntityLoads        int64
	EntityFetches      int64
	EntityInserts      int64
	EntityUpdates      int64
	EntityDeletes      int64
	CollectionLoads    int64
	CollectionFetches  int64
	Flushes            int64
	Transactions       int64
	Commits            int64
	OptimisticFailures int64
	QueryExecutions    int64
}

// Snapshot copies the current counter values.
func (s *Statistics) Snapshot() StatisticsSnapshot {
	return StatisticsSnapshot{
		SessionsOpened:     s.sessionsOpened.Load(),
		SessionsClosed:     s.sessionsClosed.Load(),
		EntityLoads:        s.entityLoads.Load(),
		EntityFetches:      s.entityFetches.Load(),
		EntityInserts:      s.entityInserts.Load(),
		EntityUpdates:      s.entityUpdates.Load(),
		EntityDeletes:      s.entityDeletes.Load(),
		CollectionLoads:    s.collectionLoads.Load(),
		CollectionFetches:  s.collectionFetches.Load(),
		Flushes:            s.flushes.Load(),
		Transactions:       s.transactions.Load(),
		Commits:            s.commits.Load(),
		OptimisticFailures: s.optimisticFailures.Load(),
		QueryExecutions:    s.queryExecutions.Load(),
	}
}
