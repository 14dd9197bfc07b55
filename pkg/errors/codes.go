package errors

import "net/http"

// Metadata payloads attached to coded errors. Every failure carries enough
// context (amounts, output identifiers, provider messages) to be actionable
// without consulting logs.

type InsufficientFundsMetadata struct {
	Required  uint64 `json:"required"`
	Available uint64 `json:"available"`
	Shortfall uint64 `json:"shortfall"`
}

type LeaseConflictMetadata struct {
	Outpoint string `json:"outpoint"`
	Holder   string `json:"holder"`
}

type TaintedOutputOnlyMetadata struct {
	Address    string `json:"address"`
	Candidates int    `json:"candidates"`
}

type ContentTooLargeMetadata struct {
	Size int `json:"size"`
	Max  int `json:"max"`
}

type BroadcastRejectedMetadata struct {
	Provider string `json:"provider_message"`
	TxHex    string `json:"tx_hex,omitempty"`
}

type StaleContextMetadata struct {
	ContextID string `json:"context_id"`
	Phase     string `json:"phase"`
}

type SignatureCountMismatchMetadata struct {
	Expected int `json:"expected"`
	Got      int `json:"got"`
}

var (
	InsufficientFunds = Code[InsufficientFundsMetadata]{
		Code: 1, Name: "InsufficientFunds", HTTPStatus: http.StatusUnprocessableEntity,
	}
	LeaseConflict = Code[LeaseConflictMetadata]{
		Code: 2, Name: "LeaseConflict", HTTPStatus: http.StatusConflict,
	}
	TaintedOutputOnly = Code[TaintedOutputOnlyMetadata]{
		Code: 3, Name: "TaintedOutputOnly", HTTPStatus: http.StatusUnprocessableEntity,
	}
	ContentTooLarge = Code[ContentTooLargeMetadata]{
		Code: 4, Name: "ContentTooLarge", HTTPStatus: http.StatusRequestEntityTooLarge,
	}
	BroadcastRejected = Code[BroadcastRejectedMetadata]{
		Code: 5, Name: "BroadcastRejected", HTTPStatus: http.StatusBadGateway,
	}
	StaleContext = Code[StaleContextMetadata]{
		Code: 6, Name: "StaleContext", HTTPStatus: http.StatusGone,
	}
	SignatureCountMismatch = Code[SignatureCountMismatchMetadata]{
		Code: 7, Name: "SignatureCountMismatch", HTTPStatus: http.StatusBadRequest,
	}
)
