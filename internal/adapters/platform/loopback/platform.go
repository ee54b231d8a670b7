package loopback

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bnema/forwarder/internal/domain"
	"github.com/bnema/forwarder/internal/ports"
)

const codeDigits = 6

// Platform is an in-process ChallengePlatform. It issues a code per account,
// prints it to the configured writer and keeps only its bcrypt hash.
type Platform struct {
	out          io.Writer
	logger       *zap.Logger
	fixedCode    string
	secondFactor []byte
	cost         int

	mu      sync.Mutex
	pending map[domain.AccountID][]byte
}

var (
	_ ports.ChallengePlatform  = (*Platform)(nil)
	_ ports.ChallengeForgetter = (*Platform)(nil)
)

type Option func(*Platform)

// WithFixedCode issues code instead of a random one.
func WithFixedCode(code string) Option {
	return func(p *Platform) { p.fixedCode = code }
}

func WithSecondFactor(secret string) Option {
	return func(p *Platform) {
		if secret == "" {
			p.secondFactor = nil
			return
		}
		p.secondFactor = []byte(secret)
	}
}

func WithCost(cost int) Option {
	return func(p *Platform) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			p.cost = cost
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Platform) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(out io.Writer, opts ...Option) (*Platform, error) {
	if out == nil {
		out = io.Discard
	}

	p := &Platform{
		out:     out,
		logger:  zap.NewNop(),
		cost:    bcrypt.DefaultCost,
		pending: make(map[domain.AccountID][]byte),
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.secondFactor != nil {
		hash, err := bcrypt.GenerateFromPassword(p.secondFactor, p.cost)
		if err != nil {
			return nil, fmt.Errorf("hash second factor: %w", err)
		}
		p.secondFactor = hash
	}
	p.logger = p.logger.Named("loopback_platform")
	return p, nil
}

func (p *Platform) SendChallenge(ctx context.Context, account domain.AccountID, credential domain.Credential) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	code := p.fixedCode
	if code == "" {
		generated, err := randomCode()
		if err != nil {
			return err
		}
		code = generated
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), p.cost)
	if err != nil {
		return fmt.Errorf("hash challenge code: %w", err)
	}

	p.mu.Lock()
	p.pending[account] = hash
	p.mu.Unlock()

	if _, err := fmt.Fprintf(p.out, "login code for %s: %s\n", account, code); err != nil {
		return fmt.Errorf("deliver challenge code: %w", err)
	}
	p.logger.Debug("challenge sent", zap.String("account_id", string(account)), zap.String("credential_id", string(credential.ID)))
	return nil
}

func (p *Platform) VerifyChallenge(ctx context.Context, account domain.AccountID, code string) (ports.ChallengeResult, error) {
	if err := ctx.Err(); err != nil {
		return ports.ChallengeResult{}, err
	}

	p.mu.Lock()
	hash, ok := p.pending[account]
	p.mu.Unlock()
	if !ok {
		return ports.ChallengeResult{}, fmt.Errorf("no challenge pending for %s", account)
	}

	if err := compare(hash, code); err != nil {
		return ports.ChallengeResult{}, err
	}

	p.mu.Lock()
	delete(p.pending, account)
	p.mu.Unlock()

	return ports.ChallengeResult{SecondFactorRequired: p.secondFactor != nil}, nil
}

func (p *Platform) VerifySecondFactor(ctx context.Context, account domain.AccountID, secret string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.secondFactor == nil {
		return fmt.Errorf("second factor not configured for %s", account)
	}
	return compare(p.secondFactor, secret)
}

// Forget discards the pending code of an abandoned login.
func (p *Platform) Forget(account domain.AccountID) {
	p.mu.Lock()
	delete(p.pending, account)
	p.mu.Unlock()
}

func compare(hash []byte, candidate string) error {
	err := bcrypt.CompareHashAndPassword(hash, []byte(candidate))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return domain.ErrChallengeRejected
	default:
		return fmt.Errorf("compare challenge: %w", err)
	}
}

func randomCode() (string, error) {
	limit := big.NewInt(1)
	for range codeDigits {
		limit.Mul(limit, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate challenge code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
