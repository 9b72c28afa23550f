// Package redis implements the durable content cache for expensive analyses.
// Entries are normalized, hashed, and stored in Redis under inspectable
// ai_cache:* keys with per-operation TTLs; a per-operation fingerprint index
// answers near-duplicate lookups when the exact key misses. Redis being down
// degrades every lookup to a miss; it never fails a request.
package redis

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/lexroute-ai/lexroute/pkg/logging"
	"github.com/lexroute-ai/lexroute/pkg/models"
	"github.com/lexroute-ai/lexroute/pkg/textsim"
)

const (
	keyPrefix   = "ai_cache:"
	indexPrefix = "ai_similarity:"
	statsPrefix = "ai_cache_stats:"

	statsTTL         = 24 * time.Hour
	compressMinBytes = 1024
	indexMaxEntries  = 512
	scanBatch        = 200

	// indexTTLMargin keeps the similarity index alive past its newest entry
	// so lookups can prune dead members instead of missing the index.
	indexTTLMargin = time.Hour

	// maxDecompressedBytes guards the gunzip path against pathological
	// entries.
	maxDecompressedBytes = 64 << 20
)

var errNotFound = errors.New("content cache: entry not found")

// Config connects the service to its Redis instance. Profiles replace the
// default tuning wholesale for the operation types they name.
type Config struct {
	Addr     string             `yaml:"addr"`
	Password string             `yaml:"password"`
	DB       int                `yaml:"db"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Service is the content cache.
type Service struct {
	rdb      *goredis.Client
	profiles map[string]Profile
	log      *logrus.Entry

	hits        atomic.Int64
	similarHits atomic.Int64
	misses      atomic.Int64
	puts        atomic.Int64
	skips       atomic.Int64
	errs        atomic.Int64
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config, log *logrus.Entry) (*Service, error) {
	if log == nil {
		log = logrus.NewEntry(logging.Discard())
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("content cache: connect to redis at %s: %w", cfg.Addr, err)
	}

	profiles := DefaultProfiles()
	for op, p := range cfg.Profiles {
		profiles[op] = p
	}
	return &Service{rdb: rdb, profiles: profiles, log: log}, nil
}

// Result is a content cache hit.
type Result struct {
	Payload  json.RawMessage
	HitType  string
	Score    float64
	StoredAt time.Time
	Key      string
}

// envelope is the stored value. Compression applies to the marshaled
// envelope as a whole and is detected on read by the gzip magic bytes.
type envelope struct {
	Payload       json.RawMessage `json:"payload"`
	OperationType string          `json:"operation_type"`
	UserID        string          `json:"user_id,omitempty"`
	Fingerprint   string          `json:"fingerprint"`
	StoredAt      time.Time       `json:"stored_at"`
}

// Get looks content up: exact key first, then the similarity index when the
// profile allows it. Store failures count as misses.
func (s *Service) Get(ctx context.Context, content, operationType, userID string, params map[string]string) (*Result, bool) {
	profile := s.profileFor(operationType)
	if profile.MaxContentLength > 0 && len(content) > profile.MaxContentLength {
		s.misses.Add(1)
		s.log.WithFields(logrus.Fields{"op": operationType, "len": len(content)}).
			Debug("content exceeds cache length limit")
		return nil, false
	}

	normalized := Normalize(content, operationType)
	hash := HashContent(normalized)
	key := buildKey(operationType, hash, userID, hashParams(params), profile)

	env, err := s.fetch(ctx, key)
	switch {
	case err == nil:
		s.hits.Add(1)
		return &Result{
			Payload:  env.Payload,
			HitType:  models.CacheHitExact,
			Score:    1,
			StoredAt: env.StoredAt,
			Key:      key,
		}, true
	case !errors.Is(err, errNotFound):
		s.errs.Add(1)
		s.misses.Add(1)
		s.log.WithError(err).WithField("op", operationType).
			Warn("content cache read failed, treating as miss")
		return nil, false
	}

	if profile.SimilarityThreshold < 1 {
		if res, ok := s.findSimilar(ctx, operationType, userID, params, normalized, profile); ok {
			s.similarHits.Add(1)
			return res, true
		}
	}

	s.misses.Add(1)
	return nil, false
}

// Put stores payload under the content's key. Size-limited content and
// payloads are skipped without error; only transport problems are reported.
func (s *Service) Put(ctx context.Context, content, operationType, userID string, params map[string]string, payload any) error {
	profile := s.profileFor(operationType)
	if profile.MaxContentLength > 0 && len(content) > profile.MaxContentLength {
		s.skips.Add(1)
		s.log.WithFields(logrus.Fields{"op": operationType, "len": len(content)}).
			Debug("content exceeds cache length limit, not storing")
		return nil
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("content cache: marshal payload: %w", err)
	}

	normalized := Normalize(content, operationType)
	hash := HashContent(normalized)
	fp := textsim.Fingerprint(normalized)
	key := buildKey(operationType, hash, userID, hashParams(params), profile)

	body, err := json.Marshal(envelope{
		Payload:       payloadJSON,
		OperationType: operationType,
		UserID:        userID,
		Fingerprint:   fingerprintHex(fp),
		StoredAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("content cache: marshal entry: %w", err)
	}
	if profile.MaxCacheSizeBytes > 0 && len(body) > profile.MaxCacheSizeBytes {
		s.skips.Add(1)
		s.log.WithFields(logrus.Fields{"op": operationType, "bytes": len(body)}).
			Warn("cache entry exceeds size limit, not storing")
		return nil
	}
	if profile.Compress && len(body) >= compressMinBytes {
		body, err = gzipBytes(body)
		if err != nil {
			return fmt.Errorf("content cache: compress entry: %w", err)
		}
	}

	indexKey := indexKeyFor(operationType, userID, profile)
	member := hash + "|" + fingerprintHex(fp)
	statsKey := statsPrefix + operationType

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, key, body, profile.TTL)
	pipe.ZAdd(ctx, indexKey, goredis.Z{Score: float64(time.Now().Unix()), Member: member})
	pipe.ZRemRangeByRank(ctx, indexKey, 0, int64(-(indexMaxEntries + 1)))
	pipe.Expire(ctx, indexKey, profile.TTL+indexTTLMargin)
	pipe.HIncrBy(ctx, statsKey, "total_cached", 1)
	pipe.HIncrBy(ctx, statsKey, "total_size", int64(len(body)))
	pipe.Expire(ctx, statsKey, statsTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.errs.Add(1)
		return fmt.Errorf("content cache: store entry: %w", err)
	}

	s.puts.Add(1)
	return nil
}

// findSimilar scans the operation's fingerprint index for the best candidate
// at or above the profile threshold. Candidate keys are rebuilt with the
// caller's user and params scope, so user-partitioned entries never leak
// across users. Dead index members are pruned as they are discovered.
func (s *Service) findSimilar(ctx context.Context, operationType, userID string, params map[string]string, normalized string, profile Profile) (*Result, bool) {
	fp := textsim.Fingerprint(normalized)
	if fp == 0 {
		return nil, false
	}

	indexKey := indexKeyFor(operationType, userID, profile)
	members, err := s.rdb.ZRevRange(ctx, indexKey, 0, indexMaxEntries-1).Result()
	if err != nil {
		s.errs.Add(1)
		s.log.WithError(err).Warn("similarity index scan failed")
		return nil, false
	}

	type candidate struct {
		member string
		hash   string
		score  float64
	}
	var candidates []candidate
	for _, m := range members {
		hash, candFP, ok := parseIndexMember(m)
		if !ok {
			continue
		}
		score := textsim.Similarity(fp, candFP)
		if score >= profile.SimilarityThreshold {
			candidates = append(candidates, candidate{member: m, hash: hash, score: score})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	paramsHash := hashParams(params)
	for _, cand := range candidates {
		key := buildKey(operationType, cand.hash, userID, paramsHash, profile)
		env, err := s.fetch(ctx, key)
		if err != nil {
			if errors.Is(err, errNotFound) {
				s.rdb.ZRem(ctx, indexKey, cand.member)
			}
			continue
		}
		return &Result{
			Payload:  env.Payload,
			HitType:  models.CacheHitSimilar,
			Score:    cand.score,
			StoredAt: env.StoredAt,
			Key:      key,
		}, true
	}
	return nil, false
}

// InvalidateOperationType removes every entry for one operation type and its
// indexes, reporting how many entries were deleted.
func (s *Service) InvalidateOperationType(ctx context.Context, operationType string) (int, error) {
	deleted, err := s.deleteByScan(ctx, keyPrefix+operationType+":*", nil)
	if err != nil {
		return deleted, err
	}
	// Shared index plus any per-user indexes. Their removal is not part of
	// the reported entry count.
	if _, err := s.deleteByScan(ctx, indexPrefix+operationType+"*", nil); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// InvalidateUser removes every user-partitioned entry and index belonging to
// userID, reporting how many entries were deleted.
func (s *Service) InvalidateUser(ctx context.Context, userID string) (int, error) {
	marker := ":user:" + userID
	matches := func(key string) bool {
		return strings.HasSuffix(key, marker) || strings.Contains(key, marker+":")
	}
	deleted, err := s.deleteByScan(ctx, keyPrefix+"*", matches)
	if err != nil {
		return deleted, err
	}
	if _, err := s.deleteByScan(ctx, indexPrefix+"*", matches); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// deleteByScan walks keys matching pattern, applies the optional filter, and
// deletes in batches.
func (s *Service) deleteByScan(ctx context.Context, pattern string, keep func(string) bool) (int, error) {
	deleted := 0
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return deleted, fmt.Errorf("content cache: scan %s: %w", pattern, err)
		}
		batch := keys
		if keep != nil {
			batch = batch[:0:0]
			for _, k := range keys {
				if keep(k) {
					batch = append(batch, k)
				}
			}
		}
		if len(batch) > 0 {
			n, err := s.rdb.Del(ctx, batch...).Result()
			if err != nil {
				return deleted, fmt.Errorf("content cache: delete batch: %w", err)
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Stats combines the in-process counters with what the store knows: live key
// counts per operation type and the rolling 24h write tallies kept under
// ai_cache_stats:{op}.
func (s *Service) Stats(ctx context.Context) (models.ContentCacheStats, error) {
	stats := models.ContentCacheStats{
		Hits:        s.hits.Load(),
		SimilarHits: s.similarHits.Load(),
		Misses:      s.misses.Load(),
		Puts:        s.puts.Load(),
		Skips:       s.skips.Load(),
		Errors:      s.errs.Load(),
	}

	keysByOp := make(map[string]int64)
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return stats, fmt.Errorf("content cache: scan keys: %w", err)
		}
		for _, key := range keys {
			rest := strings.TrimPrefix(key, keyPrefix)
			if i := strings.IndexByte(rest, ':'); i > 0 {
				keysByOp[rest[:i]]++
				stats.Entries++
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	stats.KeysByOperation = keysByOp

	usage := make(map[string]models.CacheOpUsage)
	cursor = 0
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, statsPrefix+"*", scanBatch).Result()
		if err != nil {
			return stats, fmt.Errorf("content cache: scan stats: %w", err)
		}
		for _, key := range keys {
			fields, err := s.rdb.HGetAll(ctx, key).Result()
			if err != nil {
				continue
			}
			op := strings.TrimPrefix(key, statsPrefix)
			usage[op] = models.CacheOpUsage{
				TotalCached: parseInt64(fields["total_cached"]),
				TotalSize:   parseInt64(fields["total_size"]),
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	stats.Usage = usage
	return stats, nil
}

// Profiles returns a copy of the effective per-operation tuning, defaults
// merged with config overrides.
func (s *Service) Profiles() map[string]Profile {
	out := make(map[string]Profile, len(s.profiles))
	for op, p := range s.profiles {
		out[op] = p
	}
	return out
}

// Ping verifies the Redis connection.
func (s *Service) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Close releases the Redis connection.
func (s *Service) Close() error {
	return s.rdb.Close()
}

// fetch loads and decodes one entry, transparently decompressing bodies that
// carry the gzip magic.
func (s *Service) fetch(ctx context.Context, key string) (*envelope, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b {
		raw, err = gunzipBytes(raw)
		if err != nil {
			return nil, fmt.Errorf("decompress entry %s: %w", key, err)
		}
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode entry %s: %w", key, err)
	}
	return &env, nil
}

// Usage reads the rolling 24h write tally for one operation type.
func (s *Service) Usage(ctx context.Context, operationType string) models.CacheOpUsage {
	fields, err := s.rdb.HGetAll(ctx, statsPrefix+operationType).Result()
	if err != nil {
		return models.CacheOpUsage{}
	}
	return models.CacheOpUsage{
		TotalCached: parseInt64(fields["total_cached"]),
		TotalSize:   parseInt64(fields["total_size"]),
	}
}

func parseInt64(s string) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// indexKeyFor scopes the similarity index. User-partitioned operations get
// per-user indexes so one user's lookups never rank another's entries.
func indexKeyFor(operationType, userID string, profile Profile) string {
	key := indexPrefix + operationType
	if profile.CacheByUser && userID != "" {
		key += ":user:" + userID
	}
	return key
}

func fingerprintHex(fp uint64) string {
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[7-i] = byte(fp >> (8 * i))
	}
	return hex.EncodeToString(b[:])
}

func parseIndexMember(member string) (hash string, fp uint64, ok bool) {
	i := strings.IndexByte(member, '|')
	if i <= 0 || i == len(member)-1 {
		return "", 0, false
	}
	b, err := hex.DecodeString(member[i+1:])
	if err != nil || len(b) != 8 {
		return "", 0, false
	}
	for _, by := range b {
		fp = fp<<8 | uint64(by)
	}
	return member[:i], fp, true
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxDecompressedBytes))
}
