package ports

import "context"

// Signer produces raw 64-byte signatures over 32-byte sighash digests. The
// engine never sees private key material, only the signatures handed back.
type Signer interface {
	SignDigests(ctx context.Context, digests []string) ([]string, error)
	PublicKey(ctx context.Context) (string, error)
}
