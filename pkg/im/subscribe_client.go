package im

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/matterkit/shadow/pkg/exchange"
	imsg "github.com/matterkit/shadow/pkg/im/message"
	"github.com/matterkit/shadow/pkg/message"
	"github.com/matterkit/shadow/pkg/session"
	"github.com/matterkit/shadow/pkg/tlv"
	"github.com/matterkit/shadow/pkg/transport"
)

// SubscribeClient errors.
var (
	ErrSubscribeTimeout     = errors.New("im: subscribe establishment timeout")
	ErrSubscriptionClosed   = errors.New("im: subscription closed")
	ErrSubscriptionEstablished = errors.New("im: subscription already established")
)

// SubscribeStatusError wraps a StatusResponse received in place of a
// SubscribeResponse, e.g. when the publisher rejects the proposed filter
// list with ResourceExhausted.
type SubscribeStatusError struct {
	Status imsg.Status
}

func (e *SubscribeStatusError) Error() string {
	return "im: subscribe failed with status: " + e.Status.String()
}

// SubscribeParams configures a subscribe request.
type SubscribeParams struct {
	AttributeRequests         []imsg.AttributePathIB
	EventRequests             []imsg.EventPathIB
	EventFilters              []imsg.EventFilterIB
	DataVersionFilters        []imsg.DataVersionFilterIB
	FabricFiltered            bool
	KeepSubscriptions         bool
	MinIntervalFloorSeconds   uint16
	MaxIntervalCeilingSeconds uint16
}

// SubscribeCallbacks is the full set of lifecycle callbacks a subscribing
// reader needs, matching the contract consumed by the subscription engine.
// OnResubscribeNeeded and OnUnsolicitedMessage are narrower than OnError and
// OnReportBegin respectively: OnResubscribeNeeded fires only when the
// publisher terminates an already-established subscription with a status
// instead of dropping the exchange, and OnUnsolicitedMessage fires only for
// a ReportData that arrives after establishment, so a caller can tell a
// genuine device-initiated push apart from a priming or resubscribe report.
type SubscribeCallbacks struct {
	OnAttributeData           func(path imsg.AttributePathIB, dataVersion imsg.DataVersion, data []byte)
	OnAttributeStatus         func(path imsg.AttributePathIB, status imsg.StatusIB)
	OnEventData                func(report imsg.EventReportIB)
	OnError                    func(err error)
	OnResubscribeNeeded        func(err error)
	OnSubscriptionEstablished  func(subscriptionID imsg.SubscriptionID, maxInterval uint16)
	OnDone                     func()
	OnUnsolicitedMessage       func()
	OnReportBegin              func()
	OnReportEnd                func()
}

// SubscribeClient establishes and maintains Matter subscriptions.
type SubscribeClient struct {
	exchangeManager *exchange.Manager
	timeout         time.Duration
}

// SubscribeClientConfig configures a SubscribeClient.
type SubscribeClientConfig struct {
	ExchangeManager *exchange.Manager
	Timeout         time.Duration
}

// NewSubscribeClient creates a new subscribe client.
func NewSubscribeClient(config SubscribeClientConfig) *SubscribeClient {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}
	return &SubscribeClient{
		exchangeManager: config.ExchangeManager,
		timeout:         timeout,
	}
}

// Subscription represents one live subscription. It owns the underlying
// exchange for as long as the subscription is open; callers must Close it.
type Subscription struct {
	exch      *exchange.ExchangeContext
	callbacks SubscribeCallbacks

	mu             sync.Mutex
	established    bool
	subscriptionID imsg.SubscriptionID
	maxInterval    uint16
	inPrimingBatch bool

	establishCh chan establishResult
	establishOnce sync.Once
}

type establishResult struct {
	subscriptionID imsg.SubscriptionID
	maxInterval    uint16
	err            error
}

// Subscribe sends a SubscribeRequestMessage and blocks until the subscription
// is established (the peer's SubscribeResponseMessage arrives) or ctx's
// deadline/timeout elapses. The returned Subscription continues to receive
// pushed ReportData messages via callbacks until Close is called.
func (c *SubscribeClient) Subscribe(
	ctx context.Context,
	sess *session.SecureContext,
	peerAddr transport.PeerAddress,
	params SubscribeParams,
	callbacks SubscribeCallbacks,
) (*Subscription, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	sub := &Subscription{
		callbacks:   callbacks,
		establishCh: make(chan establishResult, 1),
	}

	exch, err := c.exchangeManager.NewExchange(
		sess,
		sess.LocalSessionID(),
		peerAddr,
		ProtocolID,
		sub,
	)
	if err != nil {
		return nil, err
	}
	sub.exch = exch

	req := &imsg.SubscribeRequestMessage{
		KeepSubscriptions:         params.KeepSubscriptions,
		MinIntervalFloorSeconds:   params.MinIntervalFloorSeconds,
		MaxIntervalCeilingSeconds: params.MaxIntervalCeilingSeconds,
		AttributeRequests:         params.AttributeRequests,
		EventRequests:             params.EventRequests,
		EventFilters:              params.EventFilters,
		FabricFiltered:            params.FabricFiltered,
		DataVersionFilters:        params.DataVersionFilters,
	}

	payload, err := EncodeSubscribeRequest(req)
	if err != nil {
		exch.Close()
		return nil, err
	}

	if err := exch.SendMessage(uint8(imsg.OpcodeSubscribeRequest), payload, true); err != nil {
		exch.Close()
		return nil, err
	}

	select {
	case <-ctx.Done():
		exch.Close()
		return nil, ErrSubscribeTimeout
	case res := <-sub.establishCh:
		if res.err != nil {
			exch.Close()
			return nil, res.err
		}
		sub.mu.Lock()
		sub.established = true
		sub.subscriptionID = res.subscriptionID
		sub.maxInterval = res.maxInterval
		sub.mu.Unlock()
		return sub, nil
	}
}

// Close tears down the subscription's exchange and fires OnDone.
func (s *Subscription) Close() {
	if s.exch != nil {
		s.exch.Close()
	}
}

// SubscriptionID returns the established subscription ID.
func (s *Subscription) SubscriptionID() imsg.SubscriptionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptionID
}

// MaxInterval returns the negotiated max interval in seconds.
func (s *Subscription) MaxInterval() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxInterval
}

// OnMessage implements exchange.ExchangeDelegate.
func (s *Subscription) OnMessage(
	ctx *exchange.ExchangeContext,
	header *message.ProtocolHeader,
	payload []byte,
) ([]byte, error) {
	opcode := imsg.Opcode(header.ProtocolOpcode)

	switch opcode {
	case imsg.OpcodeReportData:
		s.handleReportData(payload)
	case imsg.OpcodeSubscribeResponse:
		s.handleSubscribeResponse(payload)
	case imsg.OpcodeStatusResponse:
		s.handleStatusResponse(payload)
	default:
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(ErrUnexpectedResponse)
		}
	}

	return nil, nil
}

// OnClose implements exchange.ExchangeDelegate.
func (s *Subscription) OnClose(ctx *exchange.ExchangeContext) {
	s.establishOnce.Do(func() {
		s.establishCh <- establishResult{err: ErrSubscriptionClosed}
	})
	if s.callbacks.OnDone != nil {
		s.callbacks.OnDone()
	}
}

func (s *Subscription) handleSubscribeResponse(payload []byte) {
	resp, err := DecodeSubscribeResponse(payload)
	if err != nil {
		s.establishOnce.Do(func() {
			s.establishCh <- establishResult{err: err}
		})
		return
	}

	s.establishOnce.Do(func() {
		s.establishCh <- establishResult{
			subscriptionID: resp.SubscriptionID,
			maxInterval:    resp.MaxInterval,
		}
	})

	if s.callbacks.OnSubscriptionEstablished != nil {
		s.callbacks.OnSubscriptionEstablished(resp.SubscriptionID, resp.MaxInterval)
	}
}

func (s *Subscription) handleReportData(payload []byte) {
	report, err := DecodeReportData(payload)
	if err != nil {
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(err)
		}
		return
	}

	s.mu.Lock()
	established := s.established
	s.mu.Unlock()
	if established && s.callbacks.OnUnsolicitedMessage != nil {
		s.callbacks.OnUnsolicitedMessage()
	}

	if s.callbacks.OnReportBegin != nil {
		s.callbacks.OnReportBegin()
	}

	for _, ar := range report.AttributeReports {
		if ar.AttributeData != nil {
			if s.callbacks.OnAttributeData != nil {
				s.callbacks.OnAttributeData(ar.AttributeData.Path, ar.AttributeData.DataVersion, ar.AttributeData.Data)
			}
		} else if ar.AttributeStatus != nil {
			if s.callbacks.OnAttributeStatus != nil {
				s.callbacks.OnAttributeStatus(ar.AttributeStatus.Path, ar.AttributeStatus.Status)
			}
		}
	}

	for _, er := range report.EventReports {
		if s.callbacks.OnEventData != nil {
			s.callbacks.OnEventData(er)
		}
	}

	if s.callbacks.OnReportEnd != nil {
		s.callbacks.OnReportEnd()
	}
}

func (s *Subscription) handleStatusResponse(payload []byte) {
	statusMsg, err := DecodeStatusResponse(payload)
	if err != nil {
		s.establishOnce.Do(func() {
			s.establishCh <- establishResult{err: err}
		})
		if s.callbacks.OnError != nil {
			s.callbacks.OnError(err)
		}
		return
	}

	statusErr := &SubscribeStatusError{Status: statusMsg.Status}

	s.mu.Lock()
	established := s.established
	s.mu.Unlock()

	if established {
		// The publisher terminated an already-established subscription
		// with a status rather than simply closing the exchange; this
		// calls for a resubscribe, not the generic error path.
		if s.callbacks.OnResubscribeNeeded != nil {
			s.callbacks.OnResubscribeNeeded(statusErr)
		}
		return
	}

	s.establishOnce.Do(func() {
		s.establishCh <- establishResult{err: statusErr}
	})
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(statusErr)
	}
}

// EncodeSubscribeRequest encodes a SubscribeRequestMessage to TLV.
func EncodeSubscribeRequest(req *imsg.SubscribeRequestMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := req.Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSubscribeRequest decodes a SubscribeRequestMessage from TLV.
func DecodeSubscribeRequest(data []byte) (*imsg.SubscribeRequestMessage, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	msg := &imsg.SubscribeRequestMessage{}
	if err := msg.Decode(r); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeSubscribeResponse encodes a SubscribeResponseMessage to TLV.
func EncodeSubscribeResponse(resp *imsg.SubscribeResponseMessage) ([]byte, error) {
	var buf bytes.Buffer
	w := tlv.NewWriter(&buf)
	if err := resp.Encode(w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSubscribeResponse decodes a SubscribeResponseMessage from TLV.
func DecodeSubscribeResponse(data []byte) (*imsg.SubscribeResponseMessage, error) {
	r := tlv.NewReader(bytes.NewReader(data))
	msg := &imsg.SubscribeResponseMessage{}
	if err := msg.Decode(r); err != nil {
		return nil, err
	}
	return msg, nil
}
