package payment

import "context"

type (
	// Gateway talks to the checkout backend
	Gateway interface {
		GetPayment(ctx context.Context, paymentID string) (*Snapshot, error)
		RetryPayment(ctx context.Context, paymentID, bearerToken string) (string, error)
	}

	// Storage journals snapshots and retry lineage
	Storage interface {
		SaveSnapshot(ctx context.Context, snapshot Snapshot) error
		GetSnapshot(ctx context.Context, paymentID string) (*Snapshot, error)
		CreateRetryLink(ctx context.Context, link RetryLink) error
		GetRetryLink(ctx context.Context, oldPaymentID string) (*RetryLink, error)
	}
)
