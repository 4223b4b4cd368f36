package intake

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/cexcore/matching-engine/internal/domain"
	"github.com/cexcore/matching-engine/internal/ledger"
	"github.com/cexcore/matching-engine/pkg/observability"
)

// Acceptor listens on one TCP port per pair (6, "CLI / process surface")
// and turns each connection into exactly one decoded message pushed onto
// Queue. Transient Accept errors are retried under a rate-limited backoff
// rather than a busy loop, grounded on the teacher's internal/security
// rate-limiter usage of golang.org/x/time/rate.
type Acceptor struct {
	Pair    domain.Pair
	Queue   *HeapQueue
	Ledger  ledger.BalanceLedger
	Money   *ledger.MoneyManager
	PW      PersistenceWriter
	Logger  *observability.Logger
	Metrics *observability.MetricsProvider

	backoff *rate.Limiter
}

// NewAcceptor constructs an acceptor for pair, backing off Accept retries
// at most once every 100ms with a burst of 5.
func NewAcceptor(pair domain.Pair, queue *HeapQueue, l ledger.BalanceLedger, money *ledger.MoneyManager, pw PersistenceWriter, logger *observability.Logger, metrics *observability.MetricsProvider) *Acceptor {
	return &Acceptor{
		Pair:    pair,
		Queue:   queue,
		Ledger:  l,
		Money:   money,
		PW:      pw,
		Logger:  logger,
		Metrics: metrics,
		backoff: rate.NewLimiter(rate.Every(100*time.Millisecond), 5),
	}
}

// Run accepts connections on ln until ctx is cancelled, processing each
// serially (6: "accepts one stream-socket connection at a time").
func (a *Acceptor) Run(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if waitErr := a.backoff.Wait(ctx); waitErr != nil {
				return nil
			}
			a.Logger.Warn(ctx, "intake accept failed, retrying", map[string]interface{}{"error": err.Error()})
			continue
		}
		a.handle(ctx, conn)
	}
}

func (a *Acceptor) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	buf := make([]byte, maxMessageBytes)
	n, err := conn.Read(buf)
	if err != nil && err != io.EOF {
		a.Logger.Warn(ctx, "intake read failed", map[string]interface{}{"error": err.Error()})
		return
	}

	msg, err := decodeWireMessage(buf[:n])
	if err != nil {
		a.Logger.Warn(ctx, "intake message rejected", map[string]interface{}{"error": err.Error()})
		if a.Metrics != nil {
			a.Metrics.RecordOrderRejected("validation")
		}
		return
	}

	if msg.Kind == domain.IntakeStop {
		a.Queue.Put(msg)
		return
	}

	if msg.Kind == domain.IntakeNewOrder {
		accepted, err := CreateOrder(ctx, a.Ledger, a.Money, a.PW, msg.NewOrder)
		if err != nil {
			a.Logger.Error(ctx, "create order failed", err, map[string]interface{}{"order_id": msg.NewOrder.OrderID})
			if a.Metrics != nil {
				a.Metrics.RecordOrderRejected("internal_error")
			}
			return
		}
		if !accepted {
			if a.Metrics != nil {
				a.Metrics.RecordOrderRejected("insufficient_funds")
			}
			return
		}
		if a.Metrics != nil {
			a.Metrics.RecordOrderReceived(string(msg.NewOrder.OrderType), string(msg.NewOrder.Side))
		}
	}

	a.Queue.Put(msg)
	if a.Metrics != nil {
		a.Metrics.SetIntakeQueueDepth(a.Queue.Size())
	}
}
