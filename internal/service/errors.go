package service

import "errors"

var (
	// ErrNotAMember rejects billing actions against organizations the caller
	// does not belong to. Never downgraded to a different organization.
	ErrNotAMember = errors.New("user does not belong to this organization")

	// ErrOrderNotFound means a webhook or activation referenced an unknown
	// payment order; nothing was written.
	ErrOrderNotFound = errors.New("payment order not found")

	// ErrMalformedWebhook means the callback body was missing its order or
	// transaction object.
	ErrMalformedWebhook = errors.New("malformed webhook payload")

	// ErrInvalidSignature means the webhook body did not match its signature.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrNoSubscription means a status toggle targeted an organization that
	// never subscribed.
	ErrNoSubscription = errors.New("organization has no subscription")

	// ErrOrderNotPaid means the activation fast path could not confirm the
	// payment with the gateway; the webhook remains the source of truth.
	ErrOrderNotPaid = errors.New("gateway does not report the order as paid")
)
