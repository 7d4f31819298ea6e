package solana

import (
	"context"
	"errors"
	"sync"
	"time"

	"laserstream-relay/src/helpers"
	"laserstream-relay/src/interfaces"
	"laserstream-relay/src/logger"
	"laserstream-relay/src/models"
	"laserstream-relay/src/network"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

const eventBufferSize = 1024

// SolanaSource streams slot, account and log notifications from a Solana
// JSON-RPC websocket endpoint. Each Subscribe opens a fresh connection.
type SolanaSource struct {
	Endpoint string
	Token    string
	Network  *network.NetworkManager
	Logger   *logger.Logger

	now func() time.Time
}

// -----------------------------------------------------------------------------

func NewSolanaSource(endpoint, token string, nm *network.NetworkManager, log *logger.Logger) *SolanaSource {
	if log == nil {
		log = logger.NewLogger(nil, "SolanaSource")
	}
	return &SolanaSource{
		Endpoint: endpoint,
		Token:    token,
		Network:  nm,
		Logger:   log,
		now:      time.Now,
	}
}

func (s *SolanaSource) Name() string {
	return "solana"
}

// -----------------------------------------------------------------------------

// Subscribe opens one websocket and attaches every subscription the filter
// asks for. Notifications from all of them are merged into a single stream.
func (s *SolanaSource) Subscribe(ctx context.Context, filter models.MFilter) (interfaces.IStream, error) {
	accounts, err := parseKeys(filter.Accounts)
	if err != nil {
		return nil, err
	}
	mentions, err := parseKeys(filter.Mentions)
	if err != nil {
		return nil, err
	}
	commitment := Commitment(filter.Commitment)

	endpoint, err := network.WithAPIKey(s.Endpoint, s.Token)
	if err != nil {
		return nil, err
	}

	client, err := ws.ConnectWithOptions(ctx, endpoint, &ws.Options{
		HttpHeader:       network.AuthHeader(s.Token),
		HandshakeTimeout: s.Network.HandshakeTimeout(),
	})
	if err != nil {
		return nil, helpers.NewTransportError("connect "+s.Endpoint, err)
	}

	stream := newSolanaStream(client, s.Logger)

	if filter.Slots {
		sub, err := client.SlotSubscribe()
		if err != nil {
			stream.Close()
			return nil, helpers.NewTransportError("slotSubscribe", err)
		}
		stream.pump(func() (models.Message, error) {
			res, err := sub.Recv()
			if err != nil {
				return nil, err
			}
			return slotMessage(res, s.now()), nil
		})
	}

	for _, key := range accounts {
		sub, err := client.AccountSubscribe(key, commitment)
		if err != nil {
			stream.Close()
			return nil, helpers.NewTransportError("accountSubscribe "+key.String(), err)
		}
		stream.pump(func() (models.Message, error) {
			res, err := sub.Recv()
			if err != nil {
				return nil, err
			}
			return accountMessage(key, res, s.now()), nil
		})
	}

	for _, key := range mentions {
		sub, err := client.LogsSubscribeMentions(key, commitment)
		if err != nil {
			stream.Close()
			return nil, helpers.NewTransportError("logsSubscribe "+key.String(), err)
		}
		stream.pump(func() (models.Message, error) {
			res, err := sub.Recv()
			if err != nil {
				return nil, err
			}
			return logsMessage(res, s.now()), nil
		})
	}

	s.Logger.Info("Subscribed to %s (slots=%t accounts=%d mentions=%d commitment=%s)",
		s.Endpoint, filter.Slots, len(accounts), len(mentions), commitment)
	return stream, nil
}

// -----------------------------------------------------------------------------
// Stream
// -----------------------------------------------------------------------------

type solanaStream struct {
	client *ws.Client
	logger *logger.Logger

	events chan models.Message
	errs   chan error
	done   chan struct{}
	once   sync.Once

	// failed is only touched by Recv, which has a single caller.
	failed error
}

func newSolanaStream(client *ws.Client, log *logger.Logger) *solanaStream {
	return &solanaStream{
		client: client,
		logger: log,
		events: make(chan models.Message, eventBufferSize),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// pump forwards one subscription into the merged stream until it fails or the
// stream is closed. The first failure of any subscription ends the stream.
func (st *solanaStream) pump(recv func() (models.Message, error)) {
	go func() {
		for {
			msg, err := recv()
			if err != nil {
				st.logger.Debug("Subscription receive failed: %v", err)
				select {
				case st.errs <- helpers.NewTransportError("subscription ended", err):
				default:
				}
				return
			}
			select {
			case st.events <- msg:
			case <-st.done:
				return
			}
		}
	}()
}

// Recv hands out every event queued before a failure, then the failure.
func (st *solanaStream) Recv(ctx context.Context) (models.Message, error) {
	for {
		select {
		case msg := <-st.events:
			return msg, nil
		default:
		}
		if st.failed != nil {
			return nil, st.failed
		}

		select {
		case msg := <-st.events:
			return msg, nil
		case err := <-st.errs:
			st.failed = err
		case <-st.done:
			return nil, helpers.NewTransportError("stream closed", errors.New("closed"))
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (st *solanaStream) Close() error {
	st.once.Do(func() {
		close(st.done)
		st.client.Close()
	})
	return nil
}

// -----------------------------------------------------------------------------
// Conversion
// -----------------------------------------------------------------------------

func slotMessage(res *ws.SlotResult, now time.Time) models.MSlotUpdate {
	return models.MSlotUpdate{
		Slot:      res.Slot,
		Parent:    res.Parent,
		Timestamp: now.Unix(),
	}
}

func accountMessage(key sol.PublicKey, res *ws.AccountResult, now time.Time) models.MAccountUpdate {
	return models.MAccountUpdate{
		Pubkey:    key.String(),
		Owner:     res.Value.Owner.String(),
		Lamports:  res.Value.Lamports,
		Slot:      res.Context.Slot,
		Timestamp: now.Unix(),
	}
}

func logsMessage(res *ws.LogResult, now time.Time) models.MTransactionUpdate {
	return models.MTransactionUpdate{
		Signature: res.Value.Signature.String(),
		Slot:      res.Context.Slot,
		Failed:    res.Value.Err != nil,
		Timestamp: now.Unix(),
	}
}

// -----------------------------------------------------------------------------

// Commitment maps a config string onto the rpc commitment level, defaulting
// to confirmed.
func Commitment(level string) rpc.CommitmentType {
	switch level {
	case "processed":
		return rpc.CommitmentProcessed
	case "finalized":
		return rpc.CommitmentFinalized
	default:
		return rpc.CommitmentConfirmed
	}
}

// ValidCommitment reports whether level is empty or a known commitment level.
func ValidCommitment(level string) bool {
	switch level {
	case "", "processed", "confirmed", "finalized":
		return true
	}
	return false
}

func parseKeys(keys []string) ([]sol.PublicKey, error) {
	out := make([]sol.PublicKey, 0, len(keys))
	for _, k := range keys {
		pk, err := sol.PublicKeyFromBase58(k)
		if err != nil {
			return nil, helpers.NewConfigurationError("invalid public key %q: %v", k, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// ValidateKeys checks that every entry is a base58 public key.
func ValidateKeys(keys []string) error {
	_, err := parseKeys(keys)
	return err
}
