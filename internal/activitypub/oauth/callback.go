package oauth

import (
	"context"
	"crypto/subtle"
	"fmt"
)

// FlowState is the position of an authorization attempt in its lifecycle.
type FlowState int

const (
	Idle FlowState = iota
	AwaitingCallback
	Validating
	Exchanging
	Authenticated
	Failed
)

func (s FlowState) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingCallback:
		return "awaiting_callback"
	case Validating:
		return "validating"
	case Exchanging:
		return "exchanging"
	case Authenticated:
		return "authenticated"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("FlowState(%d)", int(s))
}

func (s FlowState) terminal() bool {
	return s == Authenticated || s == Failed
}

// Flow tracks one authorization attempt. It is passed explicitly from
// the login request to the callback, a Flow without a pending session is Idle.
type Flow struct {
	Session *Session
	state   FlowState
	err     error
}

func NewFlow(s *Session) *Flow {
	f := &Flow{Session: s}
	if s != nil {
		f.state = AwaitingCallback
	}
	return f
}

func (f *Flow) State() FlowState {
	return f.state
}

// Err is the reason of the failure once the flow is Failed.
func (f *Flow) Err() error {
	return f.err
}

// Callback validates the parameters the authorization server redirected with,
// exchanges the code and persists the tokens. The checks run in order: an
// error parameter, the state, then the code. Whatever the outcome the pending
// session is discarded, the verifier and the state are single use.
func (c *Client) Callback(ctx context.Context, f *Flow, p CallbackParams) (*TokenSet, error) {
	if f.state.terminal() {
		return nil, ErrFlowCompleted
	}

	if !p.Present() {
		return nil, ErrNoCallbackParams
	}

	c.transition(f, Validating)

	if p.Error != "" {
		return nil, c.fail(ctx, f, fmt.Errorf("%w: %w", ErrAuthorizationDenied, ErrorResponse{
			Code:        p.Error,
			Description: p.ErrorDescription,
			URI:         p.ErrorURI,
		}))
	}

	if f.Session == nil || p.State == "" || subtle.ConstantTimeCompare([]byte(p.State), []byte(f.Session.State)) != 1 {
		c.logger.Warn("rejected authorization callback with an invalid state", "callback", p)
		return nil, c.fail(ctx, f, ErrStateMismatch)
	}

	if p.Code == "" {
		return nil, c.fail(ctx, f, ErrMissingAuthorizationCode)
	}

	c.transition(f, Exchanging)

	t, err := c.exchanger.Exchange(ctx, f.Session.Actor.Endpoints.TokenEndpoint, ExchangeParams{
		Code:         p.Code,
		CodeVerifier: f.Session.PKCE.Verifier,
		RedirectURI:  c.RedirectURI(),
		ClientID:     c.ClientID(),
	})
	if err != nil {
		return nil, c.fail(ctx, f, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, err))
	}

	if err := c.tokens.SaveTokens(ctx, f.Session.Actor, *t); err != nil {
		return nil, c.fail(ctx, f, fmt.Errorf("%w: failed to persist tokens: %w", ErrTokenExchangeFailed, err))
	}

	c.discard(ctx, f)
	c.transition(f, Authenticated)

	return t, nil
}

func (c *Client) fail(ctx context.Context, f *Flow, err error) error {
	c.discard(ctx, f)
	f.err = err
	c.transition(f, Failed)
	return err
}

func (c *Client) discard(ctx context.Context, f *Flow) {
	if f.Session == nil {
		return
	}
	if err := c.storage.Unset(ctx, f.Session.ID); err != nil {
		c.logger.Error("failed to discard pending session", "flow", f.Session.ID, "error", err)
	}
}

func (c *Client) transition(f *Flow, to FlowState) {
	attrs := []any{"from", f.state.String(), "to", to.String()}
	if f.Session != nil {
		attrs = append(attrs, "flow", f.Session.ID)
	}
	if to == Failed && f.err != nil {
		attrs = append(attrs, "error", f.err)
	}
	c.logger.Debug("authorization flow transition", attrs...)
	f.state = to
}
