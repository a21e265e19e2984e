package gateway

import (
	"astra-arena/internal/service"
)

// ClientMessage is one inbound frame from a browser client.
type ClientMessage struct {
	Type string `json:"type"`

	// start_search
	GameID string  `json:"game_id,omitempty"`
	BuyIn  float64 `json:"buy_in,omitempty"`

	// choose_move
	Move string `json:"move,omitempty"`

	// attach_wallet
	WalletID    string `json:"wallet_id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// Inbound frame types.
const (
	MsgStartSearch  = "start_search"
	MsgCancelSearch = "cancel_search"
	MsgChooseMove   = "choose_move"
	MsgNextRound    = "next_round"
	MsgAttachWallet = "attach_wallet"
)

// ServerMessage is one outbound frame. Exactly one payload field is set,
// keyed by Type.
type ServerMessage struct {
	Type  string            `json:"type"`
	Hello *HelloPayload     `json:"hello,omitempty"`
	State *service.Snapshot `json:"state,omitempty"`
	Error string            `json:"error,omitempty"`
}

// Outbound frame types.
const (
	MsgHello = "hello"
	MsgState = "state"
	MsgError = "error"
)

// HelloPayload is sent once after accept. It carries the resolved client
// identity so a device-scoped client can persist it, plus the games the
// gateway is able to run.
type HelloPayload struct {
	ClientID string   `json:"client_id"`
	Minted   bool     `json:"minted"`
	Scope    string   `json:"scope"`
	Games    []string `json:"games"`
}
