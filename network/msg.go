package network

import (
	"ATX/configs"
	"ATX/utils"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts travel as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// PrepareRequest asks a participant to reserve a signed delta against an
// account. Operation is "debit" or "credit" and must agree with the sign of
// Amount: debits are negative, credits positive.
type PrepareRequest struct {
	TransactionID string          `json:"transaction_id"`
	AccountID     string          `json:"account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Operation     string          `json:"operation"`
}

// PrepareDetails echoes the reserved state back with a commit vote.
type PrepareDetails struct {
	AccountID      string          `json:"account_id"`
	CurrentBalance decimal.Decimal `json:"current_balance"`
	PendingChange  decimal.Decimal `json:"pending_change"`
	Operation      string          `json:"operation"`
}

type CommitRequest struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
}

// CommitDetails carries the post-commit balance.
type CommitDetails struct {
	AccountID  string          `json:"account_id"`
	NewBalance decimal.Decimal `json:"new_balance"`
}

type AbortRequest struct {
	TransactionID string `json:"transaction_id"`
	AccountID     string `json:"account_id"`
	Reason        string `json:"reason,omitempty"`
}

// WireError is the error member of every failed envelope.
type WireError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// APIResponse is the uniform envelope of every endpoint. Exactly one of Vote
// or Data is populated on success, Error on failure.
type APIResponse struct {
	Success bool        `json:"success"`
	Vote    string      `json:"vote,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   *WireError  `json:"error,omitempty"`
}

// OK builds a success envelope around data.
func OK(data interface{}) *APIResponse {
	return &APIResponse{Success: true, Data: data}
}

// Voted builds a success envelope carrying a prepare vote.
func Voted(vote string, details interface{}) *APIResponse {
	return &APIResponse{Success: true, Vote: vote, Data: details}
}

// VotedAbort builds the failure envelope of an abort vote, carrying the
// originating taxonomy code.
func VotedAbort(err error, details interface{}) *APIResponse {
	resp := Failed(err, details)
	resp.Vote = configs.VoteAbort
	return resp
}

// Failed maps err onto the wire taxonomy.
func Failed(err error, details interface{}) *APIResponse {
	return &APIResponse{Success: false, Error: &WireError{
		Code:    utils.CodeOf(err),
		Message: err.Error(),
		Details: details,
	}}
}

// TransferRequest is the client-facing body of POST /transfers.
type TransferRequest struct {
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	// TransactionID, when supplied, makes the request an idempotent retry of
	// an earlier transfer attempt.
	TransactionID string `json:"transaction_id,omitempty"`
}

// TransferResult reports a terminal transfer outcome.
type TransferResult struct {
	TransactionID        string          `json:"transaction_id"`
	Status               string          `json:"status"`
	SourceAccountID      string          `json:"source_account_id"`
	DestinationAccountID string          `json:"destination_account_id"`
	Amount               decimal.Decimal `json:"amount"`
	RetryAttempt         int             `json:"retry_attempt,omitempty"`
	TotalAttempts        int             `json:"total_attempts,omitempty"`
	AbortReason          string          `json:"abort_reason,omitempty"`
}

// CreateAccountRequest provisions an account on a participant.
type CreateAccountRequest struct {
	OwnerID        string          `json:"owner_id"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// LockStatus answers GET /2pc/status/{tx_id} on a participant.
type LockStatus struct {
	TransactionID string `json:"transaction_id"`
	Held          bool   `json:"held"`
	AccountID     string `json:"account_id,omitempty"`
	Decision      string `json:"decision,omitempty"`
}
