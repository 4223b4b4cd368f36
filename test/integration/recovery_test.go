//go:build integration

package integration

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/cexcore/matching-engine/internal/domain"
	"github.com/cexcore/matching-engine/internal/engine"
	"github.com/cexcore/matching-engine/internal/ledger"
	testsuite "github.com/cexcore/matching-engine/pkg/testing"
)

type RecoverySuite struct {
	testsuite.TestSuite
}

func TestRecoverySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration suite in short mode")
	}
	suite.Run(t, new(RecoverySuite))
}

// TestFillBookRestoresLadderAndBlobs exercises crash recovery (4.4,
// fill_book): a pending order row written directly to Postgres, with no
// matching Redis blob, must come back onto the ladder with its blob
// restored so a subsequent cancel can find it.
func (s *RecoverySuite) TestFillBookRestoresLadderAndBlobs() {
	ctx := s.Ctx
	pair := domain.Pair{Base: domain.BTC, Quote: domain.ETH}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO orders (order_id, user_id, pair, side, order_type, price, quantity, initial_quantity, status, created_at_unix)
		VALUES (1, 1, $1, 'bid', 'limit', '100', '2', '2', 'pending', 1)
	`, pair.String())
	s.Require().NoError(err)

	balanceLedger := ledger.NewRedisLedger(s.Redis)
	money := ledger.NewMoneyManager(balanceLedger, decimal.NewFromFloat(0.01))
	book := engine.NewBook(pair, balanceLedger, money, nil, s.Logger, nil, decimal.NewFromInt(1), func() int64 { return 2 })

	s.Require().NoError(engine.FillBook(ctx, s.DB, book, 500))

	s.Equal(1, book.Bids.Len())
	blob, found, err := balanceLedger.GetBlob(ctx, 1)
	s.Require().NoError(err)
	s.Require().True(found, "expected recovered order's blob to be restored")
	s.True(blob.AtBook)
	s.True(blob.Quantity.Equal(decimal.NewFromInt(2)))
}
