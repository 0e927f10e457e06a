package receipt

import "log/slog"

// Predicate decides whether a verified receipt backs productID.
type Predicate func(r *Receipt, productID string) bool

// Verifier loads the local receipt on demand, authenticates it and answers
// whether it backs a given product.
type Verifier struct {
	src      Source
	params   Params
	contains Predicate
	logger   *slog.Logger
}

type VerifierOption func(*Verifier)

// WithPredicate replaces the default ContainsProduct check.
func WithPredicate(p Predicate) VerifierOption {
	return func(v *Verifier) {
		if p != nil {
			v.contains = p
		}
	}
}

func NewVerifier(src Source, params Params, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		src:      src,
		params:   params,
		contains: (*Receipt).ContainsProduct,
		logger:   params.Logger,
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	v.params.Logger = v.logger
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Available reports whether a local receipt exists.
func (v *Verifier) Available() bool {
	return v.src != nil && v.src.Exists()
}

// Load reads and verifies the receipt.
func (v *Verifier) Load() (*Receipt, error) {
	if v.src == nil {
		return nil, rerr(RECEIPT_ERR_UNAVAILABLE, "no receipt source")
	}
	b, err := v.src.Read()
	if err != nil {
		return nil, err
	}
	return Parse(b, v.params)
}

// Verify reports whether a valid receipt backs productID. It fails closed.
func (v *Verifier) Verify(productID string) bool {
	r, err := v.Load()
	if err != nil {
		v.logger.Warn("receipt verification failed", "product_id", productID, "code", string(CodeOf(err)), "error", err)
		return false
	}
	if !v.contains(r, productID) {
		v.logger.Warn("receipt does not contain product", "product_id", productID)
		return false
	}
	return true
}
