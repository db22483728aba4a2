package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/oidc-rp/rpcore/pkg/oidc"
)

// DeviceFlowState is the DeviceFlowHandle's current position in the
// pending → {granted, denied, expired} state machine (spec.md §4.7).
type DeviceFlowState string

const (
	DeviceFlowPending DeviceFlowState = "pending"
	DeviceFlowGranted DeviceFlowState = "granted"
	DeviceFlowDenied  DeviceFlowState = "denied"
	DeviceFlowExpired DeviceFlowState = "expired"
)

// DeviceFlowHandle is the result of a deviceAuthorization request: a
// device_code/user_code pair plus everything a caller needs to drive its
// own polling loop. The handle does not sleep; callers time their own
// polls using Interval and stop once ExpiresAt is reached.
type DeviceFlowHandle struct {
	client *Client

	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresAt               time.Time
	Interval                time.Duration
	MaxAge                  *time.Duration

	State DeviceFlowState
}

// DeviceAuthorization POSTs to device_authorization_endpoint, authenticated
// using the token endpoint's auth method (spec.md §4.6), and returns a
// fresh DeviceFlowHandle in the pending state.
func (c *Client) DeviceAuthorization(ctx context.Context, params map[string]any) (result *DeviceFlowHandle, err error) {
	ctx, span := Tracer.Start(ctx, "DeviceAuthorization")
	defer span.End()
	logFlowStart(ctx, "device_authorization")
	defer func() { logFlowEnd(ctx, "device_authorization", err) }()

	form := url.Values{}
	for k, v := range params {
		form.Set(k, toFormValue(v))
	}
	if err := c.authenticate(form, EndpointToken, nil); err != nil {
		return nil, err
	}

	var body struct {
		DeviceCode              string `json:"device_code"`
		UserCode                string `json:"user_code"`
		VerificationURI         string `json:"verification_uri"`
		VerificationURIComplete string `json:"verification_uri_complete"`
		ExpiresIn               int64  `json:"expires_in"`
		Interval                int64  `json:"interval"`
	}
	if err := c.postAuthenticatedForm(ctx, c.resolveEndpoint(EndpointToken, "device_authorization"), form, &body); err != nil {
		return nil, err
	}

	interval := body.Interval
	if interval <= 0 {
		interval = 5
	}
	return &DeviceFlowHandle{
		client:                  c,
		DeviceCode:              body.DeviceCode,
		UserCode:                body.UserCode,
		VerificationURI:         body.VerificationURI,
		VerificationURIComplete: body.VerificationURIComplete,
		ExpiresAt:               time.Now().Add(time.Duration(body.ExpiresIn) * time.Second),
		Interval:                time.Duration(interval) * time.Second,
		State:                   DeviceFlowPending,
	}, nil
}

// Poll performs a single device-code grant attempt (spec.md §4.7):
// authorization_pending leaves the handle pending; slow_down increases
// Interval by 5 seconds and leaves it pending; access_denied/expired_token
// are terminal AS errors; any other response transitions to granted,
// validating a returned id_token with context token.
func (h *DeviceFlowHandle) Poll(ctx context.Context) (result *TokenSet, err error) {
	ctx, span := Tracer.Start(ctx, "DeviceFlowHandle.Poll")
	defer span.End()
	logFlowStart(ctx, "device_poll")
	defer func() { logFlowEnd(ctx, "device_poll", err) }()

	form := url.Values{}
	form.Set("grant_type", string(oidc.GrantTypeDeviceCode))
	form.Set("device_code", h.DeviceCode)
	if err := h.client.authenticate(form, EndpointToken, nil); err != nil {
		return nil, err
	}

	tokenSet, err := h.client.exchangeForm(ctx, form)
	if err != nil {
		var asErr *oidc.ASError
		if errors.As(err, &asErr) {
			switch asErr.ErrorType {
			case oidc.ErrorAuthorizationPending:
				h.State = DeviceFlowPending
			case oidc.ErrorSlowDown:
				h.Interval += 5 * time.Second
				h.State = DeviceFlowPending
			case oidc.ErrorAccessDenied:
				h.State = DeviceFlowDenied
			case oidc.ErrorExpiredToken:
				h.State = DeviceFlowExpired
			default:
				h.State = DeviceFlowDenied
			}
		}
		return nil, err
	}

	if tokenSet.IDToken != "" {
		claims, err := h.client.ValidateIDToken(ctx, tokenSet, oidc.ContextToken, ValidateOptions{MaxAge: h.MaxAge})
		if err != nil {
			return nil, err
		}
		tokenSet = tokenSet.WithClaims(claims)
	}
	h.State = DeviceFlowGranted
	return tokenSet, nil
}

func toFormValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	encoded, _ := json.Marshal(v)
	return string(encoded)
}
