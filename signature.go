package authkit

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/altlock/authkit/logger"
)

// Algorithm selects how a request signature is computed.
type Algorithm string

const (
	AlgorithmMD5        Algorithm = "MD5"
	AlgorithmSHA1       Algorithm = "SHA1"
	AlgorithmSHA256     Algorithm = "SHA256"
	AlgorithmHMACSHA256 Algorithm = "HMAC_SHA256"
)

// Well-known request parameter names.
const (
	ParamAlgorithm        = "Algorithm"
	ParamAlgorithmVersion = "AlgorithmVersion"
	ParamAPIVersion       = "ApiVersion"
	ParamTimestamp        = "Timestamp"
	ParamNonce            = "Nonce"
	ParamSignature        = "Signature"
)

const (
	DefaultAlgorithmVersion = "v1"
	DefaultAPIVersion       = "v1"

	// DefaultDisparityWindow bounds how far a request timestamp may drift
	// from server time. The nonce TTL defaults to the same window, so a
	// nonce is only guarded against reuse while its timestamp could still
	// pass the freshness gate. That trade-off is deliberate: an older
	// replay already fails on the timestamp.
	DefaultDisparityWindow = 5 * time.Minute
)

// Client input errors. These mark malformed or stale requests and are
// distinguishable from an ordinary "not valid" outcome, which is reported
// as (false, nil).
var (
	ErrUnknownAlgorithm    = errors.New("unknown signature algorithm")
	ErrMissingParam        = errors.New("missing signature parameter")
	ErrTimestampOutOfRange = errors.New("timestamp outside allowed window")
	ErrNonceReplayed       = errors.New("nonce already used")
)

type signerFunc func(signing, secret string) string

var signers = map[Algorithm]signerFunc{
	AlgorithmMD5:        keyedDigest(md5.New),
	AlgorithmSHA1:       keyedDigest(sha1.New),
	AlgorithmSHA256:     keyedDigest(sha256.New),
	AlgorithmHMACSHA256: hmacSHA256,
}

// keyedDigest appends "&key=<secret>" to the signing string and hashes the
// result, the legacy shared-secret scheme the simple algorithms use.
func keyedDigest(newHash func() hash.Hash) signerFunc {
	return func(signing, secret string) string {
		h := newHash()
		h.Write([]byte(signing + "&key=" + secret))
		return hex.EncodeToString(h.Sum(nil))
	}
}

func hmacSHA256(signing, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signing))
	return hex.EncodeToString(mac.Sum(nil))
}

// Sign computes the signature for params under the given algorithm and
// secret. The Signature parameter is excluded; Algorithm, AlgorithmVersion
// and ApiVersion are injected with defaults when absent; remaining keys are
// sorted case-insensitively and joined as key=percentEncode(value) pairs.
// Parameters with nil values are skipped. Exported so clients can produce
// signatures the service will accept.
func Sign(alg Algorithm, params map[string]any, secret string) (string, error) {
	signer, ok := signers[alg]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownAlgorithm, alg)
	}
	return signer(signingString(alg, params), secret), nil
}

func signingString(alg Algorithm, params map[string]any) string {
	merged := make(map[string]any, len(params)+3)
	for k, v := range params {
		if k == ParamSignature || v == nil {
			continue
		}
		merged[k] = v
	}
	merged[ParamAlgorithm] = string(alg)
	if _, ok := merged[ParamAlgorithmVersion]; !ok {
		merged[ParamAlgorithmVersion] = DefaultAlgorithmVersion
	}
	if _, ok := merged[ParamAPIVersion]; !ok {
		merged[ParamAPIVersion] = DefaultAPIVersion
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		li, lj := strings.ToLower(keys[i]), strings.ToLower(keys[j])
		if li != lj {
			return li < lj
		}
		return keys[i] < keys[j]
	})

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+percentEncode(fmt.Sprint(merged[k])))
	}
	return strings.Join(parts, "&")
}

// percentEncode escapes like encodeURIComponent: query escaping with
// spaces as %20, not '+'.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// SecretStore is the durable apiKey -> secret mapping.
type SecretStore interface {
	Put(ctx context.Context, apiKey, secret string) error
	Delete(ctx context.Context, apiKey string) error
	Get(ctx context.Context, apiKey string) (string, bool, error)
	All(ctx context.Context) (map[string]string, error)
}

// KeyService authenticates signed machine-to-machine requests and manages
// the API key secrets they are verified against. Secrets live in a durable
// store mirrored by an in-memory cache; nonces live in a TTL KV.
type KeyService struct {
	secrets SecretStore
	cache   *ristretto.Cache
	nonces  KV
	window  time.Duration
	now     func() time.Time
	log     logger.Logger
}

type KeyServiceOption func(*KeyService) error

// WithDisparityWindow sets the timestamp freshness window; the nonce TTL
// follows it.
func WithDisparityWindow(d time.Duration) KeyServiceOption {
	return func(s *KeyService) error {
		if d <= 0 {
			return fmt.Errorf("disparity window must be positive, got %v", d)
		}
		s.window = d
		return nil
	}
}

// WithKeyLogger installs a Logger on the KeyService.
func WithKeyLogger(l logger.Logger) KeyServiceOption {
	return func(s *KeyService) error {
		s.log = l
		return nil
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) KeyServiceOption {
	return func(s *KeyService) error {
		s.now = now
		return nil
	}
}

// WithSecretCacheSize sizes the ristretto mirror of the secret store.
func WithSecretCacheSize(numCounters, maxCost int64) KeyServiceOption {
	return func(s *KeyService) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: 64,
		})
		if err != nil {
			return err
		}
		s.cache.Close()
		s.cache = cache
		return nil
	}
}

// NewKeyService builds a KeyService over the given durable secret store and
// nonce KV.
func NewKeyService(secrets SecretStore, nonces KV, opts ...KeyServiceOption) (*KeyService, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	s := &KeyService{
		secrets: secrets,
		cache:   cache,
		nonces:  nonces,
		window:  DefaultDisparityWindow,
		now:     time.Now,
		log:     logger.NewNull(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			cache.Close()
			return nil, err
		}
	}
	return s, nil
}

// ValidateKey runs the sequential verification gates over a signed request:
// algorithm, required fields, timestamp freshness, nonce single-use, secret
// lookup, signature comparison. Malformed input returns a client error; an
// unknown key or a signature mismatch returns (false, nil); store failures
// propagate unmodified.
func (s *KeyService) ValidateKey(ctx context.Context, apiKey string, params map[string]any) (bool, error) {
	algName, _ := stringParam(params, ParamAlgorithm)
	if algName == "" {
		return false, fmt.Errorf("%w: %s not provided", ErrUnknownAlgorithm, ParamAlgorithm)
	}
	alg := Algorithm(algName)
	if _, ok := signers[alg]; !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algName)
	}

	ts, ok := stringParam(params, ParamTimestamp)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingParam, ParamTimestamp)
	}
	nonce, ok := stringParam(params, ParamNonce)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingParam, ParamNonce)
	}
	provided, ok := stringParam(params, ParamSignature)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrMissingParam, ParamSignature)
	}

	if err := s.checkFreshness(ts); err != nil {
		return false, err
	}

	// Nonce burns on first sight, before the key is even looked up, so a
	// replayed capture cannot probe for valid keys either.
	fresh, err := s.nonces.CheckAndSet(ctx, "nonce:"+nonce, "used", s.window)
	if err != nil {
		return false, err
	}
	if !fresh {
		s.log.Info("replayed nonce rejected", "api_key", apiKey, "nonce", nonce)
		return false, fmt.Errorf("%w: %s", ErrNonceReplayed, nonce)
	}

	secret, found, err := s.lookupSecret(ctx, apiKey)
	if err != nil {
		return false, err
	}
	if !found {
		// Unknown key is a normal negative outcome, not an error.
		return false, nil
	}

	expected := signers[alg](signingString(alg, params), secret)
	return expected == provided, nil
}

func (s *KeyService) checkFreshness(ts string) error {
	millis, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp %q", ErrTimestampOutOfRange, ts)
	}
	drift := s.now().UnixMilli() - millis
	if drift < 0 {
		drift = -drift
	}
	if drift >= s.window.Milliseconds() {
		return fmt.Errorf("%w: drift %dms, window %dms", ErrTimestampOutOfRange, drift, s.window.Milliseconds())
	}
	return nil
}

func (s *KeyService) lookupSecret(ctx context.Context, apiKey string) (string, bool, error) {
	if v, ok := s.cache.Get(apiKey); ok {
		return v.(string), true, nil
	}
	secret, found, err := s.secrets.Get(ctx, apiKey)
	if err != nil || !found {
		return "", false, err
	}
	s.cache.Set(apiKey, secret, 1)
	return secret, true, nil
}

// AddKey stores a new apiKey -> secret mapping, writing through to the
// cache so validation sees it immediately.
func (s *KeyService) AddKey(ctx context.Context, apiKey, secret string) error {
	if err := s.secrets.Put(ctx, apiKey, secret); err != nil {
		return err
	}
	s.cache.Set(apiKey, secret, 1)
	s.cache.Wait()
	s.log.Info("api key added", "api_key", apiKey)
	return nil
}

// UpdateKey replaces the secret for an existing key. Same write-through
// mechanics as AddKey.
func (s *KeyService) UpdateKey(ctx context.Context, apiKey, secret string) error {
	if err := s.secrets.Put(ctx, apiKey, secret); err != nil {
		return err
	}
	s.cache.Set(apiKey, secret, 1)
	s.cache.Wait()
	s.log.Info("api key updated", "api_key", apiKey)
	return nil
}

// RemoveKey deletes the mapping from the durable store and the cache.
func (s *KeyService) RemoveKey(ctx context.Context, apiKey string) error {
	if err := s.secrets.Delete(ctx, apiKey); err != nil {
		return err
	}
	s.cache.Del(apiKey)
	s.log.Info("api key removed", "api_key", apiKey)
	return nil
}

// LoadKeys warms the cache from the durable store. Full scan; key counts
// are expected to stay small.
func (s *KeyService) LoadKeys(ctx context.Context) error {
	all, err := s.secrets.All(ctx)
	if err != nil {
		return err
	}
	for k, v := range all {
		s.cache.Set(k, v, 1)
	}
	s.cache.Wait()
	s.log.Info("api keys loaded", "count", len(all))
	return nil
}

// Close releases the secret cache.
func (s *KeyService) Close() {
	s.cache.Close()
}

func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false
	}
	str := fmt.Sprint(v)
	if str == "" {
		return "", false
	}
	return str, true
}
