package walias

import (
	"context"

	"walias/internal/model"
)

// QuoteOracle prices an unclaimed walias. Real settlement is out of scope;
// the oracle is an external collaborator behind this interface.
type QuoteOracle interface {
	Quote(ctx context.Context, name, domainID string) (model.Quote, error)
}

// FixedOracle quotes a constant price for every name.
type FixedOracle struct {
	Price int64
}

func (o FixedOracle) Quote(_ context.Context, name, domainID string) (model.Quote, error) {
	return model.Quote{
		Price:    o.Price,
		Currency: "sats",
		Metadata: map[string]string{"walias": model.WaliasID(name, domainID)},
	}, nil
}
