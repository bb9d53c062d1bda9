package chat

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/companion-chat/internal/apierr"
	"github.com/suPer8Hu/companion-chat/internal/auth"
	"github.com/suPer8Hu/companion-chat/internal/logger"
)

// Identity is the caller class: authenticated when UserID is set,
// anonymous otherwise.
type Identity struct {
	UserID string
}

func (i Identity) Authenticated() bool { return i.UserID != "" }

// BearerVerifier validates a bearer credential and returns the user id.
type BearerVerifier interface {
	Verify(token string) (string, error)
}

type Resolver struct {
	verifier BearerVerifier
	hasher   *auth.TokenHasher
	repo     *Repo
	log      *logger.Logger
	now      func() time.Time
}

func NewResolver(verifier BearerVerifier, hasher *auth.TokenHasher, repo *Repo, log *logger.Logger) *Resolver {
	return &Resolver{
		verifier: verifier,
		hasher:   hasher,
		repo:     repo,
		log:      log.With("component", "identity"),
		now:      time.Now,
	}
}

// Resolve never fails: a missing or invalid bearer yields an anonymous
// identity, and the session check decides whether that is enough.
func (r *Resolver) Resolve(ctx context.Context, bearer string) Identity {
	bearer = strings.TrimSpace(bearer)
	if bearer == "" || r.verifier == nil {
		return Identity{}
	}
	userID, err := r.verifier.Verify(bearer)
	if err != nil {
		r.log.Info("bearer rejected, treating caller as anonymous", "error", err)
		return Identity{}
	}
	return Identity{UserID: userID}
}

// Authorize checks the caller against an already-loaded session. The
// first-message exemption only holds while no token is bound to an
// anonymous session; once one is, every request must present it.
func (r *Resolver) Authorize(ctx context.Context, sess *Session, id Identity, rawAnonToken string, isFirstMessage bool) error {
	if !sess.IsAnonymous {
		return authorize(sess, id, false, isFirstMessage)
	}
	if isFirstMessage {
		bound, err := r.repo.HasAnonymousTokens(ctx, sess.SessionID)
		if err != nil {
			return apierr.Wrap(apierr.ErrPersistence, fmt.Errorf("load session tokens: %w", err))
		}
		isFirstMessage = !bound
	}
	validToken := false
	if !isFirstMessage && rawAnonToken != "" {
		hashes, err := r.repo.ActiveTokenHashes(ctx, sess.SessionID, r.now())
		if err != nil {
			return apierr.Wrap(apierr.ErrPersistence, fmt.Errorf("load session tokens: %w", err))
		}
		validToken = matchesAny(r.hasher.Hash(rawAnonToken), hashes)
	}
	return authorize(sess, id, validToken, isFirstMessage)
}

// authorize is the decision table:
//
//	owned session:      bearer required (401), must be the owner (403)
//	anonymous, first:   allowed; only reached while no token is bound
//	anonymous, later:   a valid, unexpired session token is required (401)
func authorize(sess *Session, id Identity, validAnonToken, isFirstMessage bool) error {
	if !sess.IsAnonymous {
		if !id.Authenticated() {
			return apierr.ErrUnauthorized
		}
		if sess.UserID == nil || *sess.UserID != id.UserID {
			return apierr.ErrForbidden
		}
		return nil
	}
	if isFirstMessage {
		return nil
	}
	if !validAnonToken {
		return apierr.ErrUnauthorized
	}
	return nil
}

func matchesAny(hash string, stored []string) bool {
	ok := 0
	for _, s := range stored {
		ok |= subtle.ConstantTimeCompare([]byte(hash), []byte(s))
	}
	return ok == 1
}
