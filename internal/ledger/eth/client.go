// Package eth implements the ledger gateway against an Ethereum-compatible
// chain carrying the voting contract. Calls are packed with the contract ABI
// and signed with the service's admin key; reads go through eth_call.
package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"ballotgate/internal/ledger"
)

// votingABI is the subset of the voting contract surface this service uses.
const votingABI = `[
  {"type":"function","name":"addCandidate","inputs":[{"name":"name","type":"string"},{"name":"party","type":"string"}],"outputs":[]},
  {"type":"function","name":"verifyCandidate","inputs":[{"name":"candidateId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"registerVoter","inputs":[{"name":"voter","type":"address"}],"outputs":[]},
  {"type":"function","name":"verifyVoter","inputs":[{"name":"voter","type":"address"}],"outputs":[]},
  {"type":"function","name":"vote","inputs":[{"name":"candidateId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"getPhase","inputs":[],"outputs":[{"name":"","type":"uint8"}],"stateMutability":"view"},
  {"type":"function","name":"getCandidateCount","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
  {"type":"function","name":"getCandidate","inputs":[{"name":"candidateId","type":"uint256"}],"outputs":[{"name":"name","type":"string"},{"name":"party","type":"string"},{"name":"voteCount","type":"uint256"},{"name":"isVerified","type":"bool"}],"stateMutability":"view"},
  {"type":"function","name":"getVoter","inputs":[{"name":"voter","type":"address"}],"outputs":[{"name":"isRegistered","type":"bool"},{"name":"isVerified","type":"bool"},{"name":"hasVoted","type":"bool"},{"name":"votedCandidateId","type":"uint256"}],"stateMutability":"view"}
]`

// Client talks to the voting contract over JSON-RPC.
type Client struct {
	ec       *ethclient.Client
	abi      abi.ABI
	contract common.Address
	key      *ecdsa.PrivateKey
	from     common.Address
	chainID  *big.Int
}

// Dial connects to the RPC endpoint and prepares the signer. The private key
// is the service's admin account; voters sign their own vote transactions
// client-side and this service only reconciles the proofs.
func Dial(ctx context.Context, rpcURL, contractAddr, adminKeyHex string) (*Client, error) {
	if !common.IsHexAddress(contractAddr) {
		return nil, fmt.Errorf("invalid contract address %q", contractAddr)
	}
	parsed, err := abi.JSON(strings.NewReader(votingABI))
	if err != nil {
		return nil, fmt.Errorf("parse voting abi: %w", err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(adminKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse admin key: %w", err)
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger rpc: %w", err)
	}
	chainID, err := ec.ChainID(ctx)
	if err != nil {
		ec.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	return &Client{
		ec:       ec,
		abi:      parsed,
		contract: common.HexToAddress(contractAddr),
		key:      key,
		from:     crypto.PubkeyToAddress(key.PublicKey),
		chainID:  chainID,
	}, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() { c.ec.Close() }

func (c *Client) AddCandidate(ctx context.Context, name, party string) (ledger.CandidateResult, error) {
	receipt, err := c.transact(ctx, "addCandidate", name, party)
	if err != nil {
		return ledger.CandidateResult{}, err
	}
	// Candidate ids are assigned sequentially by the contract; the freshly
	// added candidate holds the current count.
	count, err := c.candidateCount(ctx)
	if err != nil {
		return ledger.CandidateResult{}, err
	}
	return ledger.CandidateResult{
		TxResult: toTxResult(receipt),
		LedgerID: count,
	}, nil
}

func (c *Client) VerifyCandidate(ctx context.Context, ledgerID int64) (ledger.TxResult, error) {
	receipt, err := c.transact(ctx, "verifyCandidate", big.NewInt(ledgerID))
	if err != nil {
		return ledger.TxResult{}, err
	}
	return toTxResult(receipt), nil
}

func (c *Client) RegisterVoter(ctx context.Context, wallet string) (ledger.TxResult, error) {
	receipt, err := c.transact(ctx, "registerVoter", common.HexToAddress(wallet))
	if err != nil {
		return ledger.TxResult{}, err
	}
	return toTxResult(receipt), nil
}

func (c *Client) VerifyVoter(ctx context.Context, wallet string) (ledger.TxResult, error) {
	receipt, err := c.transact(ctx, "verifyVoter", common.HexToAddress(wallet))
	if err != nil {
		return ledger.TxResult{}, err
	}
	return toTxResult(receipt), nil
}

func (c *Client) CastVote(ctx context.Context, ledgerID int64, wallet string) (ledger.TxResult, error) {
	// Votes are normally signed by the voter's own wallet on the client
	// side. This path exists for operational tooling that votes on behalf
	// of the admin account.
	receipt, err := c.transact(ctx, "vote", big.NewInt(ledgerID))
	if err != nil {
		return ledger.TxResult{}, err
	}
	return toTxResult(receipt), nil
}

func (c *Client) Phase(ctx context.Context) (ledger.Phase, error) {
	out, err := c.call(ctx, "getPhase")
	if err != nil {
		return "", err
	}
	phase, ok := out[0].(uint8)
	if !ok {
		return "", ledger.NewError("getPhase", "unexpected phase encoding", false, nil)
	}
	switch phase {
	case 0:
		return ledger.PhaseRegistration, nil
	case 1:
		return ledger.PhaseVoting, nil
	case 2:
		return ledger.PhaseEnded, nil
	}
	return "", ledger.NewError("getPhase", fmt.Sprintf("unknown phase %d", phase), false, nil)
}

func (c *Client) Tally(ctx context.Context) ([]ledger.TallyEntry, error) {
	count, err := c.candidateCount(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]ledger.TallyEntry, 0, count)
	for i := int64(1); i <= count; i++ {
		out, err := c.call(ctx, "getCandidate", big.NewInt(i))
		if err != nil {
			return nil, err
		}
		name, _ := out[0].(string)
		party, _ := out[1].(string)
		votes, _ := out[2].(*big.Int)
		verified, _ := out[3].(bool)
		entry := ledger.TallyEntry{LedgerID: i, Name: name, Party: party, Verified: verified}
		if votes != nil {
			entry.VoteCount = votes.Int64()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (c *Client) VoterStatus(ctx context.Context, wallet string) (ledger.VoterStatus, error) {
	out, err := c.call(ctx, "getVoter", common.HexToAddress(wallet))
	if err != nil {
		return ledger.VoterStatus{}, err
	}
	status := ledger.VoterStatus{}
	status.Registered, _ = out[0].(bool)
	status.Verified, _ = out[1].(bool)
	status.HasVoted, _ = out[2].(bool)
	if voted, ok := out[3].(*big.Int); ok {
		status.VotedCandidateID = voted.Int64()
	}
	return status, nil
}

func (c *Client) candidateCount(ctx context.Context) (int64, error) {
	out, err := c.call(ctx, "getCandidateCount")
	if err != nil {
		return 0, err
	}
	count, ok := out[0].(*big.Int)
	if !ok {
		return 0, ledger.NewError("getCandidateCount", "unexpected count encoding", false, nil)
	}
	return count.Int64(), nil
}

// call performs a read-only eth_call and unpacks the result.
func (c *Client) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, ledger.NewError(method, "pack call data", false, err)
	}
	raw, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, wrapRPCError(method, err)
	}
	out, err := c.abi.Unpack(method, raw)
	if err != nil {
		return nil, ledger.NewError(method, "unpack result", false, err)
	}
	return out, nil
}

// transact packs, signs, sends, and waits for one contract transaction.
func (c *Client) transact(ctx context.Context, method string, args ...any) (*types.Receipt, error) {
	data, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, ledger.NewError(method, "pack call data", false, err)
	}
	nonce, err := c.ec.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, wrapRPCError(method, err)
	}
	gasPrice, err := c.ec.SuggestGasPrice(ctx)
	if err != nil {
		return nil, wrapRPCError(method, err)
	}
	gas, err := c.ec.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.contract, Data: data})
	if err != nil {
		// Gas estimation runs the call, so contract reverts surface here
		// with their reason string before anything is sent.
		return nil, wrapRPCError(method, err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &c.contract,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.key)
	if err != nil {
		return nil, ledger.NewError(method, "sign transaction", false, err)
	}
	if err := c.ec.SendTransaction(ctx, signed); err != nil {
		return nil, wrapRPCError(method, err)
	}
	receipt, err := bind.WaitMined(ctx, c.ec, signed)
	if err != nil {
		return nil, ledger.NewError(method, "await confirmation", true, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ledger.NewError(method, "transaction reverted", false, nil)
	}
	return receipt, nil
}

func toTxResult(receipt *types.Receipt) ledger.TxResult {
	return ledger.TxResult{
		TxHash:      receipt.TxHash.Hex(),
		BlockNumber: receipt.BlockNumber.Uint64(),
		GasUsed:     receipt.GasUsed,
	}
}

// wrapRPCError normalizes provider errors into the ledger taxonomy. Revert
// reasons are matched by substring because providers differ in framing.
func wrapRPCError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "already registered"):
		return ledger.NewError(op, ledger.ReasonAlreadyRegistered, false, err)
	case strings.Contains(msg, "already voted"):
		return ledger.NewError(op, ledger.ReasonAlreadyVoted, false, err)
	case strings.Contains(msg, "not verified"):
		return ledger.NewError(op, ledger.ReasonNotVerified, false, err)
	case strings.Contains(msg, "unknown candidate"), strings.Contains(msg, "invalid candidate"):
		return ledger.NewError(op, ledger.ReasonUnknownCandidate, false, err)
	case strings.Contains(msg, "phase"):
		return ledger.NewError(op, ledger.ReasonWrongPhase, false, err)
	}
	// Anything else is assumed transient: timeouts, connection drops,
	// nonce races.
	return ledger.NewError(op, "rpc failure", true, err)
}
