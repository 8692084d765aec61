package api

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"duel/internal/market"
	"duel/internal/match"
	"duel/internal/portfolio"
)

// Inbound command types.
const (
	CmdAuth             = "auth"
	CmdCreateMatch      = "create_match"
	CmdJoinMatch        = "join_match"
	CmdTrade            = "trade"
	CmdCancelMatch      = "cancel_match"
	CmdGetMatch         = "get_match"
	CmdGetOpenMatches   = "get_open_matches"
	CmdGetActiveMatches = "get_active_matches"
	CmdGetMyMatches     = "get_my_matches"
	CmdPing             = "ping"
)

var commandTypes = map[string]bool{
	CmdAuth:             true,
	CmdCreateMatch:      true,
	CmdJoinMatch:        true,
	CmdTrade:            true,
	CmdCancelMatch:      true,
	CmdGetMatch:         true,
	CmdGetOpenMatches:   true,
	CmdGetActiveMatches: true,
	CmdGetMyMatches:     true,
	CmdPing:             true,
}

// Outbound message types that are not engine events.
const (
	MsgAuthenticated = "authenticated"
	MsgActiveMatches = "active_matches"
	MsgMyMatches     = "my_matches"
	MsgMatch         = "match"
	MsgTradeAccepted = "trade_accepted"
	MsgTradeRejected = "trade_rejected"
	MsgPrices        = "prices"
	MsgPong          = "pong"
	MsgError         = "error"
)

// Gateway-level refusals. They share match.Error so replies and HTTP status
// mapping treat every refusal the same way.
var (
	ErrInvalidCommand       = &match.Error{Kind: match.KindValidation, Code: "invalid_command", Message: "malformed or unknown command"}
	ErrNotAuthenticated     = &match.Error{Kind: match.KindNotAuthorized, Code: "not_authenticated", Message: "send auth before any other command"}
	ErrAlreadyAuthenticated = &match.Error{Kind: match.KindStateConflict, Code: "already_authenticated", Message: "connection is already authenticated"}
	ErrRateLimited          = &match.Error{Kind: match.KindStateConflict, Code: "rate_limited", Message: "too many commands, slow down"}
)

func invalidCommand(msg string) *match.Error {
	return &match.Error{Kind: match.KindValidation, Code: ErrInvalidCommand.Code, Message: msg}
}

type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId"`
}

type authCommand struct {
	envelope
	Address string `json:"address" validate:"required"`
	Token   string `json:"token"`
}

type createMatchCommand struct {
	envelope
	StakeAmount     decimal.Decimal `json:"stakeAmount"`
	DurationSeconds int             `json:"durationSeconds"`
	Assets          []string        `json:"assets" validate:"dive,required"`
}

type matchCommand struct {
	envelope
	MatchID string `json:"matchId" validate:"required"`
}

type tradeCommand struct {
	envelope
	MatchID  string          `json:"matchId" validate:"required"`
	Asset    string          `json:"asset" validate:"required"`
	Side     portfolio.Side  `json:"side" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type emptyCommand struct {
	envelope
}

var validate = validator.New()

// decodeCommand strictly decodes data into cmd and validates it.
func decodeCommand(data []byte, cmd any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cmd); err != nil {
		return invalidCommand("malformed command: " + err.Error())
	}
	if err := validate.Struct(cmd); err != nil {
		return invalidCommand("invalid command: " + err.Error())
	}
	return nil
}

// Message is every outbound frame.
type Message struct {
	Type      string            `json:"type"`
	RequestID string            `json:"requestId,omitempty"`
	Player    string            `json:"player,omitempty"`
	Match     *match.Snapshot   `json:"match,omitempty"`
	Matches   *[]match.Snapshot `json:"matches,omitempty"`
	Trade     *portfolio.Trade  `json:"trade,omitempty"`
	Prices    *market.Quote     `json:"prices,omitempty"`
	Code      string            `json:"code,omitempty"`
	Message   string            `json:"message,omitempty"`
}

func listing(typ string, ms []match.Snapshot) Message {
	if ms == nil {
		ms = []match.Snapshot{}
	}
	return Message{Type: typ, Matches: &ms}
}

// eventMessage converts an engine event to its wire form.
func eventMessage(ev match.Event) Message {
	if ev.Type == match.EventOpenMatches {
		return listing(string(ev.Type), ev.Matches)
	}
	msg := Message{Type: string(ev.Type), Match: ev.Match, Trade: ev.Trade}
	if ev.Matches != nil {
		ms := ev.Matches
		msg.Matches = &ms
	}
	return msg
}

func errorMessage(typ, requestID string, err error) Message {
	msg := Message{Type: typ, RequestID: requestID, Code: match.CodeOf(err), Message: "internal error"}
	if match.KindOf(err) != 0 {
		msg.Message = err.Error()
	}
	return msg
}
