package inscriber

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/vianetwork/btcwatch/src/utils/config"
	"github.com/vianetwork/btcwatch/src/utils/inscription"
	"github.com/vianetwork/btcwatch/src/utils/task"

	"github.com/nats-io/nats.go"
)

var (
	ErrUnavailable = errors.New("inscriber unavailable")
	ErrRejected    = errors.New("inscriber rejected the request")
)

type requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

type VoteRequest struct {
	BatchNumber uint64 `json:"batch_number"`
	Vote        uint8  `json:"vote"`
	VoterPubkey string `json:"voter_pubkey"`
	Signature   string `json:"signature"`
}

type VoteReply struct {
	Txid  string `json:"txid,omitempty"`
	Error string `json:"error,omitempty"`
}

// Asks the inscriber service to publish votes on Bitcoin, over NATS request/reply
type Inscriber struct {
	*task.Task

	conn      *nats.Conn
	requester requester
}

func NewInscriber(config *config.Config) (self *Inscriber) {
	self = new(Inscriber)

	self.Task = task.NewTask(config, "inscriber").
		WithOnBeforeStart(self.connect).
		WithSubtaskFunc(self.run).
		WithOnAfterStop(self.disconnect)

	return
}

// Replaces the NATS connection, used in tests
func (self *Inscriber) WithRequester(v requester) *Inscriber {
	self.requester = v
	return self
}

func (self *Inscriber) connect() (err error) {
	if self.requester != nil {
		return nil
	}

	self.conn, err = nats.Connect(self.Config.Nats.Url,
		nats.Name("via/btc-watch/"+self.Config.BtcWatch.ModuleName()),
		nats.Timeout(self.Config.Nats.RequestTimeout),
		nats.MaxReconnects(self.Config.Nats.MaxReconnects),
		nats.ReconnectWait(self.Config.Nats.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			self.Log.WithError(err).Warn("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			self.Log.Info("Reconnected to NATS")
		}),
	)
	if err != nil {
		self.Log.WithError(err).Error("Failed to connect to NATS")
		return
	}

	self.requester = self.conn
	return
}

func (self *Inscriber) run() error {
	<-self.StopChannel
	return nil
}

func (self *Inscriber) disconnect() {
	if self.conn == nil {
		return
	}
	err := self.conn.Drain()
	if err != nil {
		self.Log.WithError(err).Error("Failed to drain NATS connection")
	}
}

// Returns the txid of the inscription carrying the vote
func (self *Inscriber) InscribeVote(ctx context.Context, vote *inscription.ProofVote) (txid chainhash.Hash, err error) {
	payload, err := json.Marshal(&VoteRequest{
		BatchNumber: vote.BatchNumber,
		Vote:        uint8(vote.Vote),
		VoterPubkey: inscription.XOnlyHex(vote.VoterPubkey),
		Signature:   hex.EncodeToString(vote.Signature[:]),
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, self.Config.Nats.RequestTimeout)
	defer cancel()

	msg, err := self.requester.RequestWithContext(ctx, self.Config.Nats.Subject, payload)
	if err != nil {
		return txid, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	var reply VoteReply
	err = json.Unmarshal(msg.Data, &reply)
	if err != nil {
		return txid, fmt.Errorf("%w: malformed reply: %s", ErrUnavailable, err)
	}

	if reply.Error != "" {
		return txid, fmt.Errorf("%w: %s", ErrRejected, reply.Error)
	}

	parsed, err := chainhash.NewHashFromStr(reply.Txid)
	if err != nil {
		return txid, fmt.Errorf("%w: bad txid %q", ErrUnavailable, reply.Txid)
	}

	self.Log.WithField("batch", vote.BatchNumber).
		WithField("vote", vote.Vote.String()).
		WithField("txid", parsed.String()).
		Info("Vote inscribed")

	return *parsed, nil
}
