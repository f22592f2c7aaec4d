package chain

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openspv/spv-engine-go/cache"
	"github.com/openspv/spv-engine-go/tx"
)

// Broadcaster submits transactions and reports their status.
type Broadcaster interface {
	Broadcast(ctx context.Context, rawTxHex string) (*TXInfo, error)
	QueryStatus(ctx context.Context, txid string) (*TXInfo, error)
	FetchPolicy(ctx context.Context) (*PolicyResponse, error)
}

// HeaderService confirms Merkle roots against trusted block headers.
type HeaderService interface {
	VerifyMerkleRoots(ctx context.Context, requests []MerkleRootRequest) (*MerkleRootsConfirmations, error)
	IsValidRootForHeight(ctx context.Context, merkleRoot string, blockHeight uint32) (bool, error)
	MerkleRoots(ctx context.Context, batchSize int, lastEvaluatedKey int64) (*MerkleRootsPage, error)
	Healthcheck(ctx context.Context) error
}

const policyCacheKey = "arc-policy"

// Service composes the broadcaster and header service behind the single
// boundary the transaction engine consumes. The fee policy is cached
// with a short TTL.
type Service struct {
	Broadcaster Broadcaster
	Headers     HeaderService

	policyTTL   time.Duration
	policyCache cache.Cache[*PolicyResponse]
	log         *logrus.Entry
}

// NewService composes the chain service clients.
func NewService(broadcaster Broadcaster, headers HeaderService, policyTTL time.Duration, log *logrus.Entry) *Service {
	if policyTTL == 0 {
		policyTTL = 5 * time.Minute
	}
	return &Service{
		Broadcaster: broadcaster,
		Headers:     headers,
		policyTTL:   policyTTL,
		policyCache: cache.NewMemory[*PolicyResponse](),
		log:         log,
	}
}

// Broadcast submits a transaction hex to the broadcaster.
func (s *Service) Broadcast(ctx context.Context, rawTxHex string) (*TXInfo, error) {
	return s.Broadcaster.Broadcast(ctx, rawTxHex)
}

// QueryStatus fetches the broadcaster's projection for txid.
func (s *Service) QueryStatus(ctx context.Context, txid string) (*TXInfo, error) {
	return s.Broadcaster.QueryStatus(ctx, txid)
}

// FeeUnit returns the broadcaster's mining fee rate, served from cache
// while fresh. A fetch failure falls back to the default rate so draft
// creation degrades instead of failing outright.
func (s *Service) FeeUnit(ctx context.Context) tx.FeeUnit {
	if cached, ok := s.policyCache.Get(policyCacheKey); ok {
		return cached.Policy.MiningFee
	}
	policy, err := s.Broadcaster.FetchPolicy(ctx)
	if err != nil {
		s.log.WithError(err).Warn("fee policy fetch failed, using default rate")
		return tx.DefaultFeeUnit
	}
	if policy.Policy.MiningFee.Bytes == 0 {
		policy.Policy.MiningFee = tx.DefaultFeeUnit
	}
	s.policyCache.Set(policyCacheKey, policy, s.policyTTL)
	return policy.Policy.MiningFee
}

// VerifyMerkleRoots delegates to the header service.
func (s *Service) VerifyMerkleRoots(ctx context.Context, requests []MerkleRootRequest) (*MerkleRootsConfirmations, error) {
	return s.Headers.VerifyMerkleRoots(ctx, requests)
}

// IsValidRootForHeight delegates to the header service, satisfying
// spv.MerkleRootConfirmer.
func (s *Service) IsValidRootForHeight(ctx context.Context, merkleRoot string, blockHeight uint32) (bool, error) {
	return s.Headers.IsValidRootForHeight(ctx, merkleRoot, blockHeight)
}
