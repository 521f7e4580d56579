package dedup

import (
	"sync"
	"time"
)

// horizonFactor задаёт, во сколько раз записи переживают самый большой TTL.
const horizonFactor = 10

type key struct {
	userID int64
	action string
}

// Guard подавляет повторные срабатывания одного действия пользователя в
// пределах окна. Состояние живёт только в памяти текущего процесса.
type Guard struct {
	mu      sync.Mutex
	entries map[key]time.Time
	maxTTL  time.Duration
	now     func() time.Time

	// OnSuppress вызывается при каждом отклонённом срабатывании.
	OnSuppress func(action string)
}

func NewGuard() *Guard {
	return &Guard{
		entries: make(map[key]time.Time),
		now:     time.Now,
	}
}

// Allow возвращает true и запоминает время, если с последнего разрешённого
// вызова для (userID, action) прошло больше ttl.
func (g *Guard) Allow(userID int64, action string, ttl time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if ttl > g.maxTTL {
		g.maxTTL = ttl
	}
	g.evict(now)

	k := key{userID: userID, action: action}
	if last, ok := g.entries[k]; ok && now.Sub(last) <= ttl {
		if g.OnSuppress != nil {
			g.OnSuppress(action)
		}
		return false
	}

	g.entries[k] = now
	return true
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

func (g *Guard) evict(now time.Time) {
	horizon := g.maxTTL * horizonFactor
	for k, last := range g.entries {
		if now.Sub(last) > horizon {
			delete(g.entries, k)
		}
	}
}
