package security

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/taskauth/cache"
	"github.com/MrEthical07/taskauth/internal/audit"
	"github.com/MrEthical07/taskauth/internal/rate"
	"github.com/MrEthical07/taskauth/internal/respond"
	"go.uber.org/zap"
)

// ReasonRateViolations is recorded on automatic blocks.
const ReasonRateViolations = "Excessive rate limit violations"

// Shield runs the per-request enforcement pipeline: block check, tiered rate
// limit, progressive delay and suspicious-pattern scoring. Every stage fails
// open when the cache is unreachable.
type Shield struct {
	cfg     Config
	blocks  *Blocklist
	limiter *Limiter
	slow    *SlowDown
	scorer  *Scorer
	logger  *zap.Logger
	events  audit.Sink
	now     func() time.Time
	wait    func(context.Context, time.Duration) error
}

// Option configures a [Shield].
type Option func(*Shield)

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Shield) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditSink sets where security events go.
func WithAuditSink(sink audit.Sink) Option {
	return func(s *Shield) {
		if sink != nil {
			s.events = sink
		}
	}
}

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Shield) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRules replaces the signature table.
func WithRules(rules []Rule) Option {
	return func(s *Shield) {
		s.scorer = NewScorer(rules, s.cfg.MaxHeaders, s.cfg.MaxUserAgent)
	}
}

// WithWaiter replaces how progressive delays are served.
func WithWaiter(wait func(context.Context, time.Duration) error) Option {
	return func(s *Shield) {
		if wait != nil {
			s.wait = wait
		}
	}
}

// New validates cfg and returns a Shield over c.
func New(c cache.Cache, cfg Config, opts ...Option) (*Shield, error) {
	if c == nil {
		return nil, errors.New("security: cache required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Shield{
		cfg:     cfg,
		blocks:  NewBlocklist(c, cfg.KeyPrefix),
		limiter: NewLimiter(c, cfg.RateLimitPrefix, cfg.Tiers),
		slow:    NewSlowDown(c, cfg.KeyPrefix+":slowdown", cfg.SlowDown),
		scorer:  NewScorer(nil, cfg.MaxHeaders, cfg.MaxUserAgent),
		logger:  zap.NewNop(),
		events:  audit.NoOpSink{},
		now:     time.Now,
		wait:    Wait,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.blocks.SetClock(s.now)
	return s, nil
}

// Blocklist exposes the underlying block and suspicion store.
func (s *Shield) Blocklist() *Blocklist { return s.blocks }

// Config returns the effective configuration.
func (s *Shield) Config() Config { return s.cfg }

func (s *Shield) emit(r *http.Request, eventType, ip, reason string, meta map[string]string) {
	s.events.Emit(r.Context(), audit.Event{
		Timestamp: s.now().UTC(),
		EventType: eventType,
		IP:        ip,
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
		Error:     reason,
		Metadata:  meta,
	})
}

func (s *Shield) failOpen(op, ip string, err error) {
	s.logger.Warn("security cache unavailable, allowing request",
		zap.String("op", op),
		zap.String("ip", ip),
		zap.Error(err),
	)
}

// Block blocks ip manually and records the event.
func (s *Shield) Block(ctx context.Context, ip, reason string, d time.Duration) (Block, error) {
	if d <= 0 {
		d = s.cfg.BlockDuration
	}
	blk, err := s.blocks.Block(ctx, ip, reason, d)
	if err != nil {
		return Block{}, err
	}
	s.logger.Warn("ip blocked", zap.String("ip", ip), zap.String("reason", reason), zap.Duration("duration", d))
	s.events.Emit(ctx, audit.Event{
		Timestamp: s.now().UTC(),
		EventType: audit.EventIPBlocked,
		IP:        ip,
		Error:     reason,
		Metadata:  map[string]string{"until": blk.Until.Format(time.RFC3339)},
	})
	return blk, nil
}

// Unblock lifts a block on ip.
func (s *Shield) Unblock(ctx context.Context, ip string) error {
	if err := s.blocks.Unblock(ctx, ip); err != nil {
		return err
	}
	s.logger.Info("ip unblocked", zap.String("ip", ip))
	s.events.Emit(ctx, audit.Event{Timestamp: s.now().UTC(), EventType: audit.EventIPUnblocked, IP: ip, Success: true})
	return nil
}

// Sweep removes lapsed blocks.
func (s *Shield) Sweep(ctx context.Context) (int, error) {
	n, err := s.blocks.Sweep(ctx)
	if n > 0 {
		s.logger.Info("lapsed ip blocks removed", zap.Int("count", n))
	}
	return n, err
}

// violation counts one violation for ip and blocks it once the threshold is
// reached. It reports whether this call blocked the address.
func (s *Shield) violation(ctx context.Context, ip string) (bool, error) {
	n, err := s.blocks.RecordViolation(ctx, ip, s.cfg.ViolationWindow)
	if err != nil {
		return false, err
	}
	if n < int64(s.cfg.ViolationThreshold) {
		return false, nil
	}
	if _, err := s.Block(ctx, ip, ReasonRateViolations, s.cfg.BlockDuration); err != nil {
		return false, err
	}
	return true, nil
}

// Middleware returns the pipeline for routes in tier.
func (s *Shield) Middleware(tier Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)
			ctx := r.Context()

			blocked, err := s.blocks.IsBlocked(ctx, ip)
			if err != nil {
				s.failOpen("block_check", ip, err)
			} else if blocked {
				s.logger.Warn("blocked ip access attempt", zap.String("ip", ip), zap.String("path", r.URL.Path))
				s.emit(r, audit.EventBlockedRequest, ip, "blocked", nil)
				respond.Error(w, http.StatusForbidden, "ForbiddenError", "Access denied", nil)
				return
			}

			if !s.rateLimit(w, r, tier, ip) {
				return
			}

			if delay, err := s.slow.Hit(ctx, ip); err != nil {
				s.failOpen("slow_down", ip, err)
			} else if delay > 0 {
				if err := s.wait(ctx, delay); err != nil {
					return
				}
			}

			body, ok := s.readBody(w, r)
			if !ok {
				return
			}
			if !s.inspect(w, r, ip, body) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Shield) rateLimit(w http.ResponseWriter, r *http.Request, tier Tier, ip string) bool {
	d, err := s.limiter.Hit(r.Context(), tier, ip, r.URL.Path)
	if err != nil {
		s.failOpen("rate_limit", ip, err)
		return true
	}
	if d.Limit > 0 {
		setRateHeaders(w, d)
	}
	if d.Allowed {
		return true
	}

	s.logger.Warn("rate limit exceeded",
		zap.String("ip", ip),
		zap.String("tier", tier.String()),
		zap.String("path", r.URL.Path),
		zap.Int64("count", d.Count),
	)
	s.emit(r, audit.EventRateLimitExceeded, ip, tier.String(), map[string]string{"tier": tier.String()})
	if err := s.blocks.MarkSuspicious(r.Context(), ip, s.cfg.SuspectTTL); err != nil {
		s.failOpen("mark_suspicious", ip, err)
	}
	if _, err := s.violation(r.Context(), ip); err != nil {
		s.failOpen("violation", ip, err)
	}

	retry := int(d.ResetIn.Round(time.Second) / time.Second)
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	respond.Error(w, http.StatusTooManyRequests, "TooManyRequests", tooManyMessage(tier), map[string]any{"retryAfter": retry})
	return false
}

func tooManyMessage(t Tier) string {
	switch t {
	case TierStrict:
		return "Too many authentication attempts"
	case TierAPI:
		return "Too many API requests"
	default:
		return "Too many requests"
	}
}

func setRateHeaders(w http.ResponseWriter, d rate.Decision) {
	h := w.Header()
	h.Set("RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("RateLimit-Reset", strconv.Itoa(int(d.ResetIn.Round(time.Second)/time.Second)))
}

// readBody buffers the body for scoring and restores it for the handler.
func (s *Shield) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, true
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes+1))
	_ = r.Body.Close()
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) || int64(len(body)) > s.cfg.MaxBodyBytes {
		payloadTooLarge(w, s.cfg.MaxBodyBytes)
		return nil, false
	}
	if err != nil {
		respond.Error(w, http.StatusBadRequest, "ValidationError", "Unable to read request body", nil)
		return nil, false
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, true
}

type suspiciousRecord struct {
	Timestamp string   `json:"timestamp"`
	Score     int      `json:"score"`
	Patterns  []string `json:"patterns"`
	Endpoint  string   `json:"endpoint"`
	Method    string   `json:"method"`
	UserAgent string   `json:"userAgent"`
}

// inspect scores the request. Any positive score is recorded and flags the
// address. A rejected request counts as a violation; below the ceiling, every
// SuspectHitsPerViolation hits in the violation window count as one, so
// repeat offenders escalate to a block.
func (s *Shield) inspect(w http.ResponseWriter, r *http.Request, ip string, body []byte) bool {
	score := s.scorer.Score(r, body)
	if score.Total == 0 {
		return true
	}
	ctx := r.Context()

	s.logger.Warn("suspicious activity detected",
		zap.String("ip", ip),
		zap.Int("score", score.Total),
		zap.Strings("patterns", score.Matches),
		zap.String("path", r.URL.Path),
	)
	rec, _ := json.Marshal(suspiciousRecord{
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Score:     score.Total,
		Patterns:  score.Matches,
		Endpoint:  r.URL.RequestURI(),
		Method:    r.Method,
		UserAgent: r.UserAgent(),
	})
	if err := s.blocks.LogSuspicious(ctx, ip, string(rec), s.cfg.SuspiciousLogCap, s.cfg.SuspiciousLogTTL); err != nil {
		s.failOpen("suspicious_log", ip, err)
	}
	if err := s.blocks.MarkSuspicious(ctx, ip, s.cfg.SuspectTTL); err != nil {
		s.failOpen("mark_suspicious", ip, err)
	}

	meta := map[string]string{"score": strconv.Itoa(score.Total), "rules_version": RulesVersion}
	if score.Total >= s.cfg.SuspicionCeiling {
		if _, err := s.violation(ctx, ip); err != nil {
			s.failOpen("violation", ip, err)
		}
		s.emit(r, audit.EventSuspiciousRequestBlocked, ip, "score", meta)
		respond.Error(w, http.StatusForbidden, "ForbiddenError", "Suspicious activity detected", nil)
		return false
	}
	s.emit(r, audit.EventSuspiciousRequest, ip, "", meta)

	hits, err := s.blocks.RecordSuspectHit(ctx, ip, s.cfg.ViolationWindow)
	if err != nil {
		s.failOpen("suspect_hit", ip, err)
		return true
	}
	if hits%int64(s.cfg.SuspectHitsPerViolation) != 0 {
		return true
	}
	blocked, err := s.violation(ctx, ip)
	if err != nil {
		s.failOpen("violation", ip, err)
		return true
	}
	if blocked {
		respond.Error(w, http.StatusForbidden, "ForbiddenError", "Access denied", nil)
		return false
	}
	return true
}
