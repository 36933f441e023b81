package storage

import (
	"context"
	"log"
)

type subscription struct {
	wake   chan struct{}
	cancel context.CancelFunc
}

// Subscribe delivers the first page of a live query to onChange now and
// again after every change to userID's memos. Deliveries are coalesced and
// never run concurrently. The returned function stops the subscription.
func (s *MemoStore) Subscribe(ctx context.Context, userID string, filter Filter, sort Sort, limit int, onChange func(*QueryResult)) (func(), error) {
	if _, err := s.Query(ctx, userID, filter, sort, Page{Limit: 1}); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &subscription{wake: make(chan struct{}, 1), cancel: cancel}
	sub.wake <- struct{}{}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return func() {}, nil
	}
	if s.subs[userID] == nil {
		s.subs[userID] = map[*subscription]struct{}{}
	}
	s.subs[userID][sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer s.unsubscribe(userID, sub)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.wake:
			}
			result, err := s.Query(ctx, userID, filter, sort, Page{Limit: limit})
			if err != nil {
				if ctx.Err() == nil {
					log.Printf("Storage: subscription query for %s failed: %v", userID, err)
				}
				continue
			}
			onChange(result)
		}
	}()

	return cancel, nil
}

func (s *MemoStore) unsubscribe(userID string, sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.subs[userID]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.subs, userID)
		}
	}
}

func (s *MemoStore) notify(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs[userID] {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	}
}
