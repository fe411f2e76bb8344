package relay

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/mailflow/internal/errs"
)

// verifyCacheTTL bounds the in-process cache of positive sender
// verifications. Kept short; the cache never blocks a send decision on
// stale data longer than this.
const verifyCacheTTL = 5 * time.Minute

// SESRelay is the AWS-backed outbound relay.
type SESRelay struct {
	client *sesv2.Client

	mu       sync.Mutex
	verified map[string]time.Time
	now      func() time.Time
}

// NewSESRelay creates a relay over an AWS config.
func NewSESRelay(awsCfg aws.Config) *SESRelay {
	return &SESRelay{
		client:   sesv2.NewFromConfig(awsCfg),
		verified: make(map[string]time.Time),
		now:      time.Now,
	}
}

// SendRaw submits a composed RFC 5322 message. The recipients are the
// envelope recipients, including bcc addresses absent from the headers.
func (r *SESRelay) SendRaw(ctx context.Context, from string, recipients []string, raw []byte) (string, error) {
	if len(raw) > MaxRawMessageBytes {
		return "", errs.New(errs.Validation, "raw message size %d exceeds relay limit %d", len(raw), MaxRawMessageBytes)
	}

	out, err := r.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination: &types.Destination{
			ToAddresses: recipients,
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	})
	if err != nil {
		return "", errs.Wrap(errs.Relay, err, "sending raw email")
	}
	return aws.ToString(out.MessageId), nil
}

// VerifySender reports whether the address may send through the relay.
// The address identity is checked first, then its domain identity.
// Positive results are cached for a few minutes.
func (r *SESRelay) VerifySender(ctx context.Context, address string) (bool, error) {
	r.mu.Lock()
	if expiry, ok := r.verified[address]; ok && r.now().Before(expiry) {
		r.mu.Unlock()
		return true, nil
	}
	r.mu.Unlock()

	ok, err := r.identityVerified(ctx, address)
	if err != nil {
		return false, err
	}
	if !ok {
		if at := strings.LastIndex(address, "@"); at >= 0 && at < len(address)-1 {
			ok, err = r.identityVerified(ctx, address[at+1:])
			if err != nil {
				return false, err
			}
		}
	}

	if ok {
		r.mu.Lock()
		r.verified[address] = r.now().Add(verifyCacheTTL)
		r.mu.Unlock()
	}
	return ok, nil
}

func (r *SESRelay) identityVerified(ctx context.Context, identity string) (bool, error) {
	out, err := r.client.GetEmailIdentity(ctx, &sesv2.GetEmailIdentityInput{
		EmailIdentity: aws.String(identity),
	})
	if err != nil {
		var notFound *types.NotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, errs.Wrap(errs.Relay, err, "looking up identity %s", identity)
	}
	return out.VerifiedForSendingStatus, nil
}

// GetQuota returns the account's sending allowance.
func (r *SESRelay) GetQuota(ctx context.Context) (Quota, error) {
	out, err := r.client.GetAccount(ctx, &sesv2.GetAccountInput{})
	if err != nil {
		return Quota{}, errs.Wrap(errs.Relay, err, "getting account quota")
	}
	if out.SendQuota == nil {
		return Quota{}, nil
	}
	return Quota{
		Max24HourSend:   out.SendQuota.Max24HourSend,
		MaxSendRate:     out.SendQuota.MaxSendRate,
		SentLast24Hours: out.SendQuota.SentLast24Hours,
	}, nil
}
