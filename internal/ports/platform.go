package ports

import (
	"context"

	"github.com/bnema/forwarder/internal/domain"
)

type ChallengeResult struct {
	SecondFactorRequired bool
}

// ChallengePlatform is the chat platform side of the login handshake.
// Verify methods return domain.ErrChallengeRejected for a wrong code or
// secret; any other error is treated as unrecoverable.
type ChallengePlatform interface {
	SendChallenge(ctx context.Context, account domain.AccountID, credential domain.Credential) error
	VerifyChallenge(ctx context.Context, account domain.AccountID, code string) (ChallengeResult, error)
	VerifySecondFactor(ctx context.Context, account domain.AccountID, secret string) error
}

// ChallengeForgetter is implemented by platforms that hold per-account
// handshake state. Forget drops it when a login ends without success.
type ChallengeForgetter interface {
	Forget(account domain.AccountID)
}
