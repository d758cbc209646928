// Package lim rate-limits clients per IP. Buckets are local token
// buckets; when Redis is configured the counters are shared so limits
// hold across replicas.
package lim

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wordbin/svc/db"
	"wordbin/svc/util"
)

const (
	maxLimiters     = 10000
	cleanupInterval = 5 * time.Minute
	limiterTTL      = 30 * time.Minute
)

type Limiter struct {
	rdb            *db.Redis
	trustedProxies []string
	localLimiters  map[string]*limiterEntry
	mu             sync.Mutex
	burstLimit     int
	globalRPM      int
	quit           chan struct{}
	stopOnce       sync.Once
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

func New(globalRPM, perIPBurst int, rdb *db.Redis, trustedProxies []string) *Limiter {
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				panic(fmt.Sprintf("invalid CIDR in trustedProxies: %s: %v", proxy, err))
			}
		} else {
			if net.ParseIP(proxy) == nil {
				panic(fmt.Sprintf("invalid IP in trustedProxies: %s", proxy))
			}
		}
	}
	l := &Limiter{
		rdb:            rdb,
		trustedProxies: trustedProxies,
		localLimiters:  make(map[string]*limiterEntry),
		burstLimit:     perIPBurst,
		globalRPM:      globalRPM,
		quit:           make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.quit) })
}

// Check decides whether a request from r's client may proceed.
func (l *Limiter) Check(r *http.Request, endpoint string) Result {
	ip := GetRealIP(r, l.trustedProxies)
	now := time.Now()
	res := Result{Limit: l.globalRPM, Reset: now.Truncate(time.Minute).Add(time.Minute)}

	if l.rdb != nil {
		key := fmt.Sprintf("lim:%s:%s:%d", endpoint, ip, now.Unix()/60)
		count, err := l.rdb.IncrWindow(r.Context(), key, 2*time.Minute)
		if err == nil {
			res.Allowed = count <= int64(l.globalRPM)
			if remaining := int64(l.globalRPM) - count; remaining > 0 {
				res.Remaining = int(remaining)
			}
			return res
		}
		util.Warn().Err(err).Msg("redis rate limit unavailable, using local buckets")
	}

	lim := l.limiterFor(ip, now)
	res.Allowed = lim.Allow()
	res.Remaining = int(lim.Tokens())
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	return res
}

func (l *Limiter) limiterFor(ip string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if entry, ok := l.localLimiters[ip]; ok {
		entry.lastAccess = now
		return entry.limiter
	}
	if len(l.localLimiters) >= maxLimiters {
		l.evictOldestLocked()
	}
	lim := rate.NewLimiter(rate.Limit(float64(l.globalRPM)/60.0), l.burstLimit)
	l.localLimiters[ip] = &limiterEntry{limiter: lim, lastAccess: now}
	return lim
}

func (l *Limiter) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range l.localLimiters {
		if oldestKey == "" || e.lastAccess.Before(oldest) {
			oldestKey = k
			oldest = e.lastAccess
		}
	}
	if oldestKey != "" {
		delete(l.localLimiters, oldestKey)
	}
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.evictExpired()
		case <-l.quit:
			return
		}
	}
}

func (l *Limiter) evictExpired() {
	cutoff := time.Now().Add(-limiterTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.localLimiters {
		if e.lastAccess.Before(cutoff) {
			delete(l.localLimiters, k)
		}
	}
}

// GetRealIP resolves the client address, honoring X-Forwarded-For only
// when the direct peer is a trusted proxy.
func GetRealIP(r *http.Request, trustedProxies []string) string {
	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(remoteIP); err == nil {
		remoteIP = host
	}
	if !ipTrusted(remoteIP, trustedProxies) {
		return remoteIP
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		candidate := strings.TrimSpace(parts[0])
		if net.ParseIP(candidate) != nil {
			return candidate
		}
	}
	return remoteIP
}

func ipTrusted(ip string, trustedProxies []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, proxy := range trustedProxies {
		if strings.Contains(proxy, "/") {
			if _, cidr, err := net.ParseCIDR(proxy); err == nil && cidr.Contains(parsed) {
				return true
			}
			continue
		}
		if proxy == ip {
			return true
		}
	}
	return false
}
