package store

import (
	"time"

	"github.com/rs/zerolog/log"

	"vn.io.arda/realtime/internal/cache"
	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/events"
)

// The *Locked helpers below are the only code that changes list, item cache,
// current record and unread counter. REST results and realtime deltas both go
// through them, so the two paths reach the same state for the same change.
// Callers hold s.mu.

func (s *Store[T, C, U]) indexLocked(id string) int {
	for i, rec := range s.items {
		if rec.RecordID() == id {
			return i
		}
	}
	return -1
}

func (s *Store[T, C, U]) replaceLocked(page domain.Page[T]) {
	s.items = append(make([]T, 0, len(page.Items)), page.Items...)
	s.total = page.TotalCount
	s.page = page.Page
	s.pageSize = page.PageSize
	s.unread = 0
	for _, rec := range s.items {
		if rec.Unread() {
			s.unread++
		}
	}
}

// appendLocked adds a following page. Records already present (pushed in
// realtime since the previous page) are refreshed in place.
func (s *Store[T, C, U]) appendLocked(page domain.Page[T]) {
	for _, rec := range page.Items {
		if i := s.indexLocked(rec.RecordID()); i >= 0 {
			s.setLocked(i, rec)
			continue
		}
		s.items = append(s.items, rec)
		if rec.Unread() {
			s.unread++
		}
	}
	s.total = page.TotalCount
	s.page = page.Page
	s.pageSize = page.PageSize
}

func (s *Store[T, C, U]) setLocked(i int, rec T) {
	if s.items[i].Unread() {
		s.unread--
	}
	s.items[i] = rec
	if rec.Unread() {
		s.unread++
	}
}

// upsertLocked applies an authoritative record. An existing entry is replaced
// in place; otherwise the record is put at the front when insert is true.
func (s *Store[T, C, U]) upsertLocked(rec T, insert bool) {
	id := rec.RecordID()
	if i := s.indexLocked(id); i >= 0 {
		s.setLocked(i, rec)
	} else if insert {
		s.items = append([]T{rec}, s.items...)
		s.total++
		if rec.Unread() {
			s.unread++
		}
	}
	if s.current != nil && (*s.current).RecordID() == id {
		c := rec
		s.current = &c
	}
	s.cache.Set(s.itemKey(id), rec, s.cfg.ItemTTL)
	s.cache.Invalidate(s.listPattern())
}

// removeLocked drops id everywhere and reports whether it was listed.
func (s *Store[T, C, U]) removeLocked(id string) bool {
	removed := false
	if i := s.indexLocked(id); i >= 0 {
		if s.items[i].Unread() {
			s.unread--
		}
		s.items = append(s.items[:i], s.items[i+1:]...)
		if s.total > 0 {
			s.total--
		}
		removed = true
	}
	if s.current != nil && (*s.current).RecordID() == id {
		s.current = nil
	}
	s.cache.Delete(s.itemKey(id))
	s.cache.Invalidate(s.listPattern())
	return removed
}

// markReadLocked flips ids to read and returns how many listed records were
// unread before. Already-read records keep their original read time.
func (s *Store[T, C, U]) markReadLocked(ids []string, at time.Time) int {
	flipped := 0
	for _, id := range ids {
		if i := s.indexLocked(id); i >= 0 && s.items[i].Unread() {
			s.items[i] = s.items[i].AsRead(at)
			s.unread--
			flipped++
		}
		if s.current != nil && (*s.current).RecordID() == id {
			c := (*s.current).AsRead(at)
			s.current = &c
		}
		if rec, ok := cache.GetAs[T](s.cache, s.itemKey(id)); ok && rec.Unread() {
			s.cache.Set(s.itemKey(id), rec.AsRead(at), s.cfg.ItemTTL)
		}
	}
	s.cache.Invalidate(s.listPattern())
	return flipped
}

type deliverable[T any] interface {
	AsDelivered(at time.Time) T
}

func (s *Store[T, C, U]) markDeliveredLocked(ids []string, at time.Time) {
	for _, id := range ids {
		i := s.indexLocked(id)
		if i < 0 {
			continue
		}
		d, ok := any(s.items[i]).(deliverable[T])
		if !ok {
			return
		}
		s.upsertLocked(d.AsDelivered(at), false)
	}
}

func (s *Store[T, C, U]) unreadIDsLocked() []string {
	var ids []string
	for _, rec := range s.items {
		if rec.Unread() {
			ids = append(ids, rec.RecordID())
		}
	}
	return ids
}

// HandleEvent applies a realtime delta. It never fails outward: malformed
// payloads and deltas for other resources are logged and dropped.
func (s *Store[T, C, U]) HandleEvent(evt domain.Event) {
	d, err := domain.DecodeDelta[T](evt)
	if err != nil {
		log.Warn().Err(err).Str("event_type", evt.Type).Msg("dropping realtime delta")
		return
	}
	if d.Kind == domain.DeltaUnknown {
		log.Debug().Str("event_type", evt.Type).Msg("ignoring unknown realtime event")
		return
	}
	if d.Resource != s.cfg.Resource {
		log.Debug().Str("event_type", evt.Type).Str("resource", string(s.cfg.Resource)).Msg("ignoring delta for another resource")
		return
	}

	s.mu.Lock()
	switch d.Kind {
	case domain.DeltaCreated:
		s.upsertLocked(d.Record, true)
	case domain.DeltaUpdated:
		s.upsertLocked(d.Record, false)
	case domain.DeltaDeleted:
		for _, id := range d.IDs {
			s.removeLocked(id)
		}
	case domain.DeltaRead:
		s.markReadLocked(d.IDs, d.At)
	case domain.DeltaDelivered:
		s.markDeliveredLocked(d.IDs, d.At)
	}
	s.mu.Unlock()
	s.notify()
}

// Binder is the listener registry a store attaches to.
type Binder interface {
	OnAll(resource domain.Resource, fn events.Listener) func()
}

// Bind routes every delta for this store's resource into HandleEvent and
// returns the disposer.
func (s *Store[T, C, U]) Bind(b Binder) func() {
	return b.OnAll(s.cfg.Resource, func(evt domain.Event) error {
		s.HandleEvent(evt)
		return nil
	})
}
