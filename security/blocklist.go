package security

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/MrEthical07/taskauth/cache"
)

// ErrCacheUnavailable wraps cache faults. The pipeline fails open on it.
var ErrCacheUnavailable = errors.New("security store unavailable")

// Block describes an active block on an address.
type Block struct {
	IP     string    `json:"ip"`
	Reason string    `json:"reason"`
	Until  time.Time `json:"until"`
}

// Blocklist keeps self-expiring address blocks, rate-limit violation counts
// and the suspicious address set in the shared cache.
//
// Each block stores its own expiry, so whether an address is blocked is
// derived from stored state and survives restarts.
type Blocklist struct {
	cache  cache.Cache
	prefix string
	now    func() time.Time
}

// NewBlocklist returns a Blocklist whose keys start with prefix.
func NewBlocklist(c cache.Cache, prefix string) *Blocklist {
	return &Blocklist{cache: c, prefix: prefix, now: time.Now}
}

// SetClock replaces the time source.
func (b *Blocklist) SetClock(now func() time.Time) {
	if now != nil {
		b.now = now
	}
}

func (b *Blocklist) setKey() string             { return b.prefix + ":blocked_ips" }
func (b *Blocklist) suspiciousKey() string      { return b.prefix + ":suspicious_ips" }
func (b *Blocklist) reasonKey(ip string) string { return b.prefix + ":block_reason:" + ip }
func (b *Blocklist) untilKey(ip string) string  { return b.prefix + ":block_until:" + ip }
func (b *Blocklist) violationKey(ip string) string {
	return b.prefix + ":violations:" + ip
}
func (b *Blocklist) suspiciousLogKey(ip string) string {
	return b.prefix + ":suspicious:" + ip
}
func (b *Blocklist) suspectKey(ip string) string { return b.prefix + ":suspect:" + ip }
func (b *Blocklist) suspectHitsKey(ip string) string {
	return b.prefix + ":suspect_hits:" + ip
}

func wrap(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
}

// Block blocks ip for d with reason.
func (b *Blocklist) Block(ctx context.Context, ip, reason string, d time.Duration) (Block, error) {
	if ip == "" || d <= 0 {
		return Block{}, errors.New("security: block needs an address and a positive duration")
	}
	until := b.now().Add(d).UTC()
	if err := b.cache.Set(ctx, b.reasonKey(ip), reason, d); err != nil {
		return Block{}, wrap(err)
	}
	if err := b.cache.Set(ctx, b.untilKey(ip), strconv.FormatInt(until.UnixMilli(), 10), d); err != nil {
		return Block{}, wrap(err)
	}
	if err := b.cache.SAdd(ctx, b.setKey(), ip); err != nil {
		return Block{}, wrap(err)
	}
	return Block{IP: ip, Reason: reason, Until: until}, nil
}

// Unblock removes any block on ip.
func (b *Blocklist) Unblock(ctx context.Context, ip string) error {
	if err := b.cache.Delete(ctx, b.reasonKey(ip), b.untilKey(ip)); err != nil {
		return wrap(err)
	}
	return wrap(b.cache.SRem(ctx, b.setKey(), ip))
}

// Lookup returns the active block on ip, if any. A block whose stored expiry
// has passed reads as absent and is cleaned up.
func (b *Blocklist) Lookup(ctx context.Context, ip string) (Block, bool, error) {
	raw, err := b.cache.Get(ctx, b.untilKey(ip))
	if errors.Is(err, cache.ErrMiss) {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, wrap(err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		_ = b.Unblock(ctx, ip)
		return Block{}, false, nil
	}
	until := time.UnixMilli(ms).UTC()
	if !b.now().Before(until) {
		return Block{}, false, b.Unblock(ctx, ip)
	}

	reason, err := b.cache.Get(ctx, b.reasonKey(ip))
	if err != nil && !errors.Is(err, cache.ErrMiss) {
		return Block{}, false, wrap(err)
	}
	return Block{IP: ip, Reason: reason, Until: until}, true, nil
}

// IsBlocked reports whether ip is currently blocked.
func (b *Blocklist) IsBlocked(ctx context.Context, ip string) (bool, error) {
	_, ok, err := b.Lookup(ctx, ip)
	return ok, err
}

// Blocked returns every active block, sorted by address.
func (b *Blocklist) Blocked(ctx context.Context) ([]Block, error) {
	members, err := b.cache.SMembers(ctx, b.setKey())
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]Block, 0, len(members))
	for _, ip := range members {
		blk, ok, err := b.Lookup(ctx, ip)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, blk)
		} else if err := b.cache.SRem(ctx, b.setKey(), ip); err != nil {
			return nil, wrap(err)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

// Sweep removes lapsed members from the blocked set and returns how many.
func (b *Blocklist) Sweep(ctx context.Context) (int, error) {
	members, err := b.cache.SMembers(ctx, b.setKey())
	if err != nil {
		return 0, wrap(err)
	}
	removed := 0
	for _, ip := range members {
		_, ok, err := b.Lookup(ctx, ip)
		if err != nil {
			return removed, err
		}
		if ok {
			continue
		}
		if err := b.Unblock(ctx, ip); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// RecordViolation counts one rate-limit violation for ip in a window.
func (b *Blocklist) RecordViolation(ctx context.Context, ip string, window time.Duration) (int64, error) {
	n, _, err := b.cache.Incr(ctx, b.violationKey(ip), window)
	return n, wrap(err)
}

// MarkSuspicious flags ip for ttl. Each mark restarts the flag's ttl, so an
// address leaves the set once it has been quiet for ttl.
func (b *Blocklist) MarkSuspicious(ctx context.Context, ip string, ttl time.Duration) error {
	at := strconv.FormatInt(b.now().UTC().UnixMilli(), 10)
	if err := b.cache.Set(ctx, b.suspectKey(ip), at, ttl); err != nil {
		return wrap(err)
	}
	if err := b.cache.SAdd(ctx, b.suspiciousKey(), ip); err != nil {
		return wrap(err)
	}
	return wrap(b.cache.Expire(ctx, b.suspiciousKey(), ttl))
}

// IsSuspect reports whether ip is currently flagged.
func (b *Blocklist) IsSuspect(ctx context.Context, ip string) (bool, error) {
	ok, err := b.cache.Exists(ctx, b.suspectKey(ip))
	return ok, wrap(err)
}

// RecordSuspectHit counts one sub-ceiling suspicious request for ip in a window.
func (b *Blocklist) RecordSuspectHit(ctx context.Context, ip string, window time.Duration) (int64, error) {
	n, _, err := b.cache.Incr(ctx, b.suspectHitsKey(ip), window)
	return n, wrap(err)
}

// Suspicious returns the addresses whose flag is still live, sorted. Lapsed
// members are pruned from the set.
func (b *Blocklist) Suspicious(ctx context.Context) ([]string, error) {
	members, err := b.cache.SMembers(ctx, b.suspiciousKey())
	if err != nil {
		return nil, wrap(err)
	}
	live := make([]string, 0, len(members))
	var stale []string
	for _, ip := range members {
		ok, err := b.IsSuspect(ctx, ip)
		if err != nil {
			return nil, err
		}
		if ok {
			live = append(live, ip)
		} else {
			stale = append(stale, ip)
		}
	}
	if len(stale) > 0 {
		if err := b.cache.SRem(ctx, b.suspiciousKey(), stale...); err != nil {
			return nil, wrap(err)
		}
	}
	sort.Strings(live)
	return live, nil
}

// LogSuspicious prepends record to the per-address analysis log.
func (b *Blocklist) LogSuspicious(ctx context.Context, ip, record string, max int64, ttl time.Duration) error {
	return wrap(b.cache.PushCapped(ctx, b.suspiciousLogKey(ip), record, max, ttl))
}

// SuspiciousLog returns up to n most recent records for ip.
func (b *Blocklist) SuspiciousLog(ctx context.Context, ip string, n int64) ([]string, error) {
	out, err := b.cache.LRange(ctx, b.suspiciousLogKey(ip), 0, n-1)
	return out, wrap(err)
}
